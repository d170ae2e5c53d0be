package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-palette/tensor"
)

func solidImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNewImageProcessor(t *testing.T) {
	processor := NewImageProcessor(224)
	if processor.targetSize != 224 {
		t.Errorf("Expected target size 224, got %d", processor.targetSize)
	}
	if processor.tempImageBuffer != nil {
		t.Error("Expected nil tempImageBuffer initially")
	}
}

func TestDecodeAndPreprocess(t *testing.T) {
	processor := NewImageProcessor(8)

	t.Run("PNG", func(t *testing.T) {
		data := encodePNG(t, solidImage(20, 10, color.RGBA{255, 0, 255, 255}))
		img, err := processor.DecodeAndPreprocess(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("DecodeAndPreprocess: %v", err)
		}
		if img.Width != 8 || img.Height != 8 || img.Channels != 3 || len(img.Data) != 3*64 {
			t.Fatalf("unexpected geometry %dx%dx%d (%d values)", img.Channels, img.Height, img.Width, len(img.Data))
		}
		// solid colour survives resampling: R=+1, G=-1, B=+1
		for i, want := range []float32{1, -1, 1} {
			v := img.Data[i*64+27]
			if math.Abs(float64(v-want)) > 0.01 {
				t.Errorf("channel %d: got %v, want %v", i, v, want)
			}
		}

		tt, err := img.Tensor()
		if err != nil {
			t.Fatal(err)
		}
		if tt.Shape[0] != 1 || tt.Shape[1] != 3 || tt.Shape[2] != 8 || tt.Shape[3] != 8 {
			t.Errorf("tensor shape %v", tt.Shape)
		}
	})

	t.Run("JPEG", func(t *testing.T) {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, solidImage(16, 16, color.RGBA{128, 128, 128, 255}), &jpeg.Options{Quality: 95}); err != nil {
			t.Fatal(err)
		}
		img, err := processor.DecodeAndPreprocess(&buf)
		if err != nil {
			t.Fatalf("DecodeAndPreprocess: %v", err)
		}
		for _, v := range img.Data {
			if v < -1 || v > 1 {
				t.Fatalf("value %v outside [-1, 1]", v)
			}
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		if _, err := processor.DecodeAndPreprocess(bytes.NewReader([]byte("not an image"))); err == nil {
			t.Error("expected decode error")
		}
		if _, err := NewImageProcessor(0).DecodeAndPreprocess(bytes.NewReader(nil)); err == nil {
			t.Error("expected target size error")
		}
	})
}

func TestToImageRoundTrip(t *testing.T) {
	data := []float32{
		-1, 1, 0, 0.5, // R
		1, -1, 0, 2, // G (2 clips)
		0, 0, -3, float32(math.NaN()), // B
	}
	src, err := tensor.NewTensor([]int{1, 3, 2, 2}, data)
	if err != nil {
		t.Fatal(err)
	}
	img, err := ToImage(src)
	if err != nil {
		t.Fatal(err)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		t.Fatalf("expected *image.RGBA, got %T", img)
	}

	tests := []struct {
		x, y int
		want color.RGBA
	}{
		{0, 0, color.RGBA{0, 255, 128, 255}},
		{1, 0, color.RGBA{255, 0, 128, 255}},
		{0, 1, color.RGBA{128, 128, 0, 255}},
		{1, 1, color.RGBA{191, 255, 0, 255}},
	}
	for _, tt := range tests {
		if got := rgba.RGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("pixel (%d,%d): got %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}

	gray, err := tensor.NewTensor([]int{1, 2, 2}, []float32{-1, 1, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	gimg, err := ToImage(gray)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := gimg.(*image.Gray); !ok {
		t.Errorf("expected *image.Gray, got %T", gimg)
	}

	bad, _ := tensor.NewTensor([]int{2, 3, 2, 2}, nil)
	if _, err := ToImage(bad); err == nil {
		t.Error("expected error for batch of two")
	}
	four, _ := tensor.NewTensor([]int{4, 2, 2}, nil)
	if _, err := ToImage(four); err == nil {
		t.Error("expected error for four channels")
	}
}

func TestSavePNGAndPreprocessBatch(t *testing.T) {
	dir := t.TempDir()
	src, err := tensor.Full([]int{1, 3, 4, 4}, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	paths := []string{
		filepath.Join(dir, "nested", "a.png"),
		filepath.Join(dir, "nested", "b.png"),
	}
	for _, p := range paths {
		if err := SavePNG(src, p); err != nil {
			t.Fatalf("SavePNG: %v", err)
		}
	}

	images, err := PreprocessBatch(paths, 4, 2)
	if err != nil {
		t.Fatalf("PreprocessBatch: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	// 0.5 -> 191 -> 0.498
	if v := images[1].Data[5]; math.Abs(float64(v)-0.5) > 0.01 {
		t.Errorf("round-tripped value %v, want ~0.5", v)
	}

	if _, err := PreprocessBatch([]string{filepath.Join(dir, "missing.png")}, 4, 0); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := os.Stat(paths[0]); err != nil {
		t.Errorf("PNG not written: %v", err)
	}
}
