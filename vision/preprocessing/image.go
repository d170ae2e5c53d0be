package preprocessing

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/draw"

	"github.com/tsawler/go-palette/tensor"
)

// ImageProcessor decodes images, resizes them to a square target size and
// converts them to CHW float32 data in [-1, 1]. It is safe for concurrent
// use.
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	targetSize      int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// ProcessedImage represents a preprocessed image in CHW layout
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// Tensor wraps the image as a [1, C, H, W] tensor.
func (p *ProcessedImage) Tensor() (*tensor.Tensor, error) {
	return tensor.NewTensor([]int{1, p.Channels, p.Height, p.Width}, p.Data)
}

// DecodeAndPreprocess decodes a PNG or JPEG image and resamples it with a
// Catmull-Rom kernel. Returns data in CHW format normalized to [-1, 1].
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	if p.targetSize <= 0 {
		return nil, fmt.Errorf("invalid target size %d", p.targetSize)
	}

	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tempImageBuffer == nil || p.tempImageBuffer.Bounds().Dx() != p.targetSize {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	target := p.tempImageBuffer
	draw.CatmullRom.Scale(target, target.Bounds(), img, img.Bounds(), draw.Src, nil)

	return &ProcessedImage{
		Data:     rgbaToCHW(target),
		Width:    p.targetSize,
		Height:   p.targetSize,
		Channels: 3,
	}, nil
}

// LoadImage opens path and preprocesses it.
func (p *ImageProcessor) LoadImage(path string) (*ProcessedImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return p.DecodeAndPreprocess(file)
}

func rgbaToCHW(img *image.RGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			idx := y*w + x
			data[idx] = float32(c.R)/127.5 - 1
			data[plane+idx] = float32(c.G)/127.5 - 1
			data[2*plane+idx] = float32(c.B)/127.5 - 1
		}
	}
	return data
}

// PreprocessBatch preprocesses multiple images concurrently
func PreprocessBatch(imagePaths []string, targetSize int, maxWorkers int) ([]*ProcessedImage, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*ProcessedImage, len(imagePaths))
	errs := make([]error, len(imagePaths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor := NewImageProcessor(targetSize)
			for j := range jobs {
				results[j.index], errs[j.index] = processor.LoadImage(j.path)
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %d: %w", i, err)
		}
	}

	return results, nil
}

// ToImage converts a [C, H, W] or [1, C, H, W] tensor in [-1, 1] back to
// an 8-bit image. One channel yields grayscale, three yield RGB. Values
// outside the range are clipped and NaN maps to black.
func ToImage(t *tensor.Tensor) (image.Image, error) {
	shape := t.Shape
	if len(shape) == 4 {
		if shape[0] != 1 {
			return nil, fmt.Errorf("ToImage expects a single sample, got batch of %d", shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("ToImage expects [C, H, W], got %v", t.Shape)
	}
	c, h, w := shape[0], shape[1], shape[2]
	plane := h * w

	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			img.Pix[i] = toByte(t.Data[i])
		}
		return img, nil
	case 3:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := y*w + x
				img.SetRGBA(x, y, color.RGBA{
					R: toByte(t.Data[idx]),
					G: toByte(t.Data[plane+idx]),
					B: toByte(t.Data[2*plane+idx]),
					A: 255,
				})
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("ToImage supports 1 or 3 channels, got %d", c)
	}
}

func toByte(v float32) uint8 {
	if v != v {
		return 0
	}
	f := math.Round((float64(v) + 1) * 127.5)
	switch {
	case f < 0:
		return 0
	case f > 255:
		return 255
	}
	return uint8(f)
}

// SavePNG writes t as a PNG file, creating parent directories.
func SavePNG(t *tensor.Tensor, path string) error {
	img, err := ToImage(t)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return f.Close()
}
