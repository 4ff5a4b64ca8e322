package embedding

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/nfnt/resize"

	"github.com/hyperjump/imgembed/internal/imaging"
)

func solidRGB(w, h int, r, g, b uint8) *imaging.RGB {
	img := imaging.NewRGB(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGB(x, y, r, g, b)
		}
	}
	return img
}

func TestTransform_Apply_shapeAndValues(t *testing.T) {
	tr := DefaultTransform()
	tensor, err := tr.Apply(solidRGB(100, 60, 255, 0, 0))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	defer tensor.Release()

	want := []int64{1, 3, 224, 224}
	for i := range want {
		if tensor.Shape[i] != want[i] {
			t.Fatalf("shape = %v, want %v", tensor.Shape, want)
		}
	}
	if tensor.Len() != 3*224*224 {
		t.Fatalf("len = %d", tensor.Len())
	}
	plane := 224 * 224
	center := 112*224 + 112
	wantR := (1 - clipMean[0]) / clipStd[0]
	wantG := (0 - clipMean[1]) / clipStd[1]
	if got := tensor.Data[center]; math.Abs(float64(got-wantR)) > 1e-3 {
		t.Errorf("red channel = %f, want %f", got, wantR)
	}
	if got := tensor.Data[plane+center]; math.Abs(float64(got-wantG)) > 1e-3 {
		t.Errorf("green channel = %f, want %f", got, wantG)
	}
}

func TestTransform_Apply_smallCrop(t *testing.T) {
	tr := Transform{ImageSize: 16, CropSize: 8, Mean: clipMean, Std: clipStd}
	tensor, err := tr.Apply(solidRGB(40, 20, 10, 20, 30))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	defer tensor.Release()
	if tensor.Len() != 3*8*8 {
		t.Errorf("len = %d", tensor.Len())
	}
}

func TestTransform_Apply_acceptsAnyImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	tr := Transform{ImageSize: 8, CropSize: 8, Mean: clipMean, Std: clipStd}
	tensor, err := tr.Apply(src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	tensor.Release()

	nrgba := image.NewNRGBA(image.Rect(0, 0, 3, 5))
	nrgba.Set(1, 1, color.NRGBA{R: 1, A: 255})
	tensor, err = tr.Apply(nrgba)
	if err != nil {
		t.Fatalf("Apply(NRGBA): %v", err)
	}
	tensor.Release()
}

func TestTransform_Apply_errors(t *testing.T) {
	tr := DefaultTransform()
	if _, err := tr.Apply(imaging.NewRGB(image.Rect(0, 0, 0, 10))); err == nil {
		t.Error("zero-width image should fail")
	}
	if _, err := tr.Apply(nil); err == nil {
		t.Error("nil image should fail")
	}
	bad := Transform{ImageSize: 8, CropSize: 8, Mean: clipMean}
	if _, err := bad.Apply(solidRGB(4, 4, 1, 1, 1)); err == nil {
		t.Error("zero std should fail")
	}
}

// gradientRGB ramps red along the long axis and green along the short one.
func gradientRGB(w, h int) *imaging.RGB {
	img := imaging.NewRGB(image.Rect(0, 0, w, h))
	long, short := h, w
	if w > h {
		long, short = w, h
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l, s := y, x
			if w > h {
				l, s = x, y
			}
			img.SetRGB(x, y, uint8(l*255/long), uint8(s*255/short), 128)
		}
	}
	return img
}

// resizeThenCrop is the unbounded preprocessing: resize the whole image,
// then take the center crop.
func resizeThenCrop(t *testing.T, tr Transform, img image.Image) []float32 {
	t.Helper()
	b := img.Bounds()
	var w, h uint
	if b.Dx() <= b.Dy() {
		w = uint(tr.ImageSize)
	} else {
		h = uint(tr.ImageSize)
	}
	resized := asRGBA(resize.Resize(w, h, asRGBA(img), resize.Bicubic))
	rb := resized.Bounds()
	crop := tr.CropSize
	left := int(math.Round(float64(rb.Dx()-crop) / 2))
	top := int(math.Round(float64(rb.Dy()-crop) / 2))
	out := make([]float32, 3*crop*crop)
	for y := 0; y < crop; y++ {
		for x := 0; x < crop; x++ {
			i := resized.PixOffset(rb.Min.X+left+x, rb.Min.Y+top+y)
			for c := 0; c < 3; c++ {
				v := float32(resized.Pix[i+c]) / 255
				out[c*crop*crop+y*crop+x] = (v - tr.Mean[c]) / tr.Std[c]
			}
		}
	}
	return out
}

func TestTransform_Apply_elongatedMatchesFullResize(t *testing.T) {
	tr := DefaultTransform()
	for _, size := range [][2]int{{20, 400}, {400, 20}, {3, 250}} {
		img := gradientRGB(size[0], size[1])
		tensor, err := tr.Apply(img)
		if err != nil {
			t.Fatalf("%dx%d: Apply: %v", size[0], size[1], err)
		}
		want := resizeThenCrop(t, tr, img)
		for i, got := range tensor.Data {
			c := i / (tr.CropSize * tr.CropSize)
			// Compare in 8-bit pixel levels.
			if diff := math.Abs(float64((got - want[i]) * tr.Std[c] * 255)); diff > 2 {
				t.Fatalf("%dx%d: element %d = %f, want %f", size[0], size[1], i, got, want[i])
			}
		}
		tensor.Release()
	}
}

func TestTransform_Apply_extremeAspectRatioBoundedMemory(t *testing.T) {
	tr := DefaultTransform()
	tests := []struct {
		name string
		w, h int
	}{
		{"1xN", 1, 40000},
		{"Nx1", 40000, 1},
		{"2xN", 2, 20000},
		{"Nx3", 30000, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solidRGB(tt.w, tt.h, 0, 255, 0)
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			tensor, err := tr.Apply(img)
			runtime.ReadMemStats(&after)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			defer tensor.Release()

			if allocated := after.TotalAlloc - before.TotalAlloc; allocated > 32<<20 {
				t.Errorf("Apply allocated %d MiB for a %dx%d image", allocated>>20, tt.w, tt.h)
			}
			if tensor.Len() != 3*224*224 {
				t.Fatalf("len = %d", tensor.Len())
			}
			plane := 224 * 224
			center := 112*224 + 112
			wantG := (1 - clipMean[1]) / clipStd[1]
			if got := tensor.Data[plane+center]; math.Abs(float64(got-wantG)) > 1e-3 {
				t.Errorf("green channel = %f, want %f", got, wantG)
			}
		})
	}
}

func TestTransform_Deterministic(t *testing.T) {
	tr := Transform{ImageSize: 32, CropSize: 32, Mean: clipMean, Std: clipStd}
	img := solidRGB(50, 70, 12, 200, 99)
	a, err := tr.Apply(img)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := tr.Apply(img)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("element %d differs: %f vs %f", i, a.Data[i], b.Data[i])
		}
	}
}

func TestParsePreprocessorConfig(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		wantSize int
		wantCrop int
		wantMean float32
	}{
		{
			name:     "legacy integer sizes",
			json:     `{"size": 256, "crop_size": 240, "image_mean": [0.5, 0.5, 0.5], "image_std": [0.5, 0.5, 0.5]}`,
			wantSize: 256, wantCrop: 240, wantMean: 0.5,
		},
		{
			name:     "object sizes",
			json:     `{"size": {"shortest_edge": 336}, "crop_size": {"height": 336, "width": 336}}`,
			wantSize: 336, wantCrop: 336, wantMean: clipMean[0],
		},
		{
			name:     "empty uses defaults",
			json:     `{}`,
			wantSize: 224, wantCrop: 224, wantMean: clipMean[0],
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := ParsePreprocessorConfig([]byte(tt.json))
			if err != nil {
				t.Fatalf("ParsePreprocessorConfig: %v", err)
			}
			if tr.ImageSize != tt.wantSize || tr.CropSize != tt.wantCrop || tr.Mean[0] != tt.wantMean {
				t.Errorf("got %+v", tr)
			}
		})
	}

	if _, err := ParsePreprocessorConfig([]byte(`{"image_std": [0, 1, 1]}`)); err == nil {
		t.Error("zero std should be rejected")
	}
	if _, err := ParsePreprocessorConfig([]byte(`not json`)); err == nil {
		t.Error("invalid json should be rejected")
	}
}

func TestLoadPreprocessorConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preprocessor_config.json")
	if err := os.WriteFile(path, []byte(`{"size": 288, "crop_size": 288}`), 0600); err != nil {
		t.Fatal(err)
	}
	tr, err := LoadPreprocessorConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if tr.ImageSize != 288 || tr.CropSize != 288 {
		t.Errorf("got %+v", tr)
	}
	if _, err := LoadPreprocessorConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}
