package telemetry

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tsawler/go-palette/tensor"
	"github.com/tsawler/go-palette/vision/preprocessing"
)

// PNGSaver writes artifacts as <dir>/<name>.png
type PNGSaver struct{}

// SaveArtifact implements the artifact saver
func (PNGSaver) SaveArtifact(img *tensor.Tensor, dir, name string) error {
	return preprocessing.SavePNG(img, filepath.Join(dir, name+".png"))
}

// ImageDir is an image sink that writes each image as
// <Dir>/<series>_<step>.png, with path separators and spaces in series
// replaced by underscores.
type ImageDir struct {
	Dir string
}

// AddImage implements the image sink
func (d ImageDir) AddImage(series string, img *tensor.Tensor, step int) error {
	name := fmt.Sprintf("%s_%d.png", SanitizeSeries(series), step)
	return preprocessing.SavePNG(img, filepath.Join(d.Dir, name))
}

var seriesReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_")

// SanitizeSeries turns a series name into a file name component
func SanitizeSeries(series string) string {
	return seriesReplacer.Replace(series)
}
