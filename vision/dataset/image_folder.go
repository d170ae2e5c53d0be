package dataset

import (
	"fmt"
	"io/fs"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-palette/tensor"
	"github.com/tsawler/go-palette/vision/preprocessing"
)

// DefaultExtensions are the file suffixes picked up by NewImageFolderDataset.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageFolderDataset serves every image below a root directory, resized to
// a square of imageSize pixels.
type ImageFolderDataset struct {
	root       string
	imagePaths []string
	processor  *preprocessing.ImageProcessor
}

// NewImageFolderDataset walks root recursively and collects files whose
// extension matches one of extensions (case-insensitive). Paths are
// sorted so indices are stable across runs.
func NewImageFolderDataset(root string, imageSize int, extensions []string) (*ImageFolderDataset, error) {
	if imageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", imageSize)
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	wanted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		wanted[strings.ToLower(ext)] = true
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && wanted[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}
	sort.Strings(paths)

	return &ImageFolderDataset{
		root:       root,
		imagePaths: paths,
		processor:  preprocessing.NewImageProcessor(imageSize),
	}, nil
}

// Len returns the number of images
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// Path returns the file behind index.
func (d *ImageFolderDataset) Path(index int) (string, error) {
	if err := checkIndex(index, len(d.imagePaths)); err != nil {
		return "", err
	}
	return d.imagePaths[index], nil
}

// Image loads and preprocesses the image at index as [3, H, W].
func (d *ImageFolderDataset) Image(index int) (*tensor.Tensor, error) {
	path, err := d.Path(index)
	if err != nil {
		return nil, err
	}
	img, err := d.processor.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return tensor.NewTensor([]int{img.Channels, img.Height, img.Width}, img.Data)
}

// Split divides the dataset into two disjoint parts. rng shuffles the
// order first when non-nil.
func (d *ImageFolderDataset) Split(trainRatio float64, rng *rand.Rand) (*ImageFolderDataset, *ImageFolderDataset) {
	n := len(d.imagePaths)
	trainSize := int(float64(n) * trainRatio)
	if trainSize < 0 {
		trainSize = 0
	}
	if trainSize > n {
		trainSize = n
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}
	return d.Subset(indices[:trainSize]), d.Subset(indices[trainSize:])
}

// Subset creates a dataset holding the images at indices, in that order.
func (d *ImageFolderDataset) Subset(indices []int) *ImageFolderDataset {
	subset := &ImageFolderDataset{
		root:       d.root,
		imagePaths: make([]string, len(indices)),
		processor:  d.processor,
	}
	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
	}
	return subset
}

// String returns a string representation of the dataset
func (d *ImageFolderDataset) String() string {
	return fmt.Sprintf("ImageFolderDataset: %d images under %s", len(d.imagePaths), d.root)
}
