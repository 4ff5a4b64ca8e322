package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
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

func TestDecode_solidRedPNG(t *testing.T) {
	data := encodePNG(t, solid(100, 100, color.RGBA{R: 255, A: 255}))
	img, err := Decode(data, DefaultLimits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Channels() != 3 {
		t.Errorf("channels = %d", img.Channels())
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Errorf("bounds = %v", b)
	}
	if len(img.Pix) != 100*100*3 {
		t.Errorf("len(Pix) = %d", len(img.Pix))
	}
	r, g, b := img.RGBAt(50, 50)
	if r != 255 || g != 0 || b != 0 {
		t.Errorf("pixel = %d,%d,%d, want 255,0,0", r, g, b)
	}
}

func TestDecode_grayscaleJPEG(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 32, 16))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gray, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	img, err := Decode(buf.Bytes(), DefaultLimits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Channels() != 3 || len(img.Pix) != 32*16*3 {
		t.Fatalf("unexpected canonical image: channels=%d len=%d", img.Channels(), len(img.Pix))
	}
	r, g, b := img.RGBAt(10, 10)
	if r != g || g != b {
		t.Errorf("grayscale should replicate into equal channels, got %d,%d,%d", r, g, b)
	}
}

func TestDecode_alphaDiscarded(t *testing.T) {
	data := encodePNG(t, solid(4, 4, color.NRGBA{R: 200, G: 10, B: 20, A: 0}))
	img, err := Decode(data, DefaultLimits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	r, g, b := img.RGBAt(1, 1)
	if r != 200 || g != 10 || b != 20 {
		t.Errorf("alpha should be dropped without compositing, got %d,%d,%d", r, g, b)
	}
}

func TestDecode_palettedGIF(t *testing.T) {
	pal := color.Palette{color.RGBA{A: 255}, color.RGBA{G: 255, A: 255}}
	src := image.NewPaletted(image.Rect(0, 0, 8, 8), pal)
	for i := range src.Pix {
		src.Pix[i] = 1
	}
	var buf bytes.Buffer
	if err := gif.Encode(&buf, src, nil); err != nil {
		t.Fatal(err)
	}
	img, err := Decode(buf.Bytes(), DefaultLimits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	r, g, b := img.RGBAt(3, 3)
	if r != 0 || g != 255 || b != 0 {
		t.Errorf("palette expansion: got %d,%d,%d", r, g, b)
	}
}

func TestDecode_BMP(t *testing.T) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, solid(5, 3, color.RGBA{B: 255, A: 255})); err != nil {
		t.Fatal(err)
	}
	img, err := Decode(buf.Bytes(), DefaultLimits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, _, b := img.RGBAt(0, 0); b != 255 {
		t.Errorf("blue channel = %d", b)
	}
}

func TestDecode_malformed(t *testing.T) {
	valid := encodePNG(t, solid(10, 10, color.White))
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"zero bytes", []byte{}},
		{"truncated header", valid[:12]},
		{"truncated body", valid[:len(valid)/2]},
		{"text", []byte("this is definitely not an image")},
		{"random bytes", []byte{0x13, 0x37, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x42, 0x99, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.data, DefaultLimits())
			if img != nil {
				t.Fatal("no image may be returned on failure")
			}
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) || de.Kind != KindMalformed {
				t.Errorf("err should be *DecodeError with KindMalformed, got %#v", err)
			}
		})
	}
}

func TestDecode_unsupported(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"icon", append([]byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x10, 0x10}, make([]byte, 32)...)},
		{"photoshop", append([]byte("8BPS\x00\x01"), make([]byte, 32)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, DefaultLimits())
			if !errors.Is(err, ErrUnsupported) {
				t.Fatalf("err = %v, want ErrUnsupported", err)
			}
			if errors.Is(err, ErrMalformed) {
				t.Error("unsupported must not also match ErrMalformed")
			}
		})
	}
}

func TestDecode_limits(t *testing.T) {
	data := encodePNG(t, solid(64, 64, color.White))

	_, err := Decode(data, Limits{MaxBytes: int64(len(data) - 1)})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("byte limit: err = %v, want ErrTooLarge", err)
	}

	_, err = Decode(data, Limits{MaxPixels: 64*64 - 1})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("pixel limit: err = %v, want ErrTooLarge", err)
	}

	if _, err := Decode(data, Limits{MaxBytes: int64(len(data)), MaxPixels: 64 * 64}); err != nil {
		t.Errorf("input at the limits should decode: %v", err)
	}
}

func TestSniff(t *testing.T) {
	data := encodePNG(t, solid(2, 2, color.White))
	if got := Sniff(data); got != "image/png" {
		t.Errorf("Sniff(png) = %q", got)
	}
	if got := Sniff([]byte("hello")); got != "text/plain" {
		t.Errorf("Sniff(text) = %q", got)
	}
}

func TestRGB_ToRGBA(t *testing.T) {
	img := NewRGB(image.Rect(0, 0, 2, 1))
	img.SetRGB(1, 0, 10, 20, 30)
	rgba := img.ToRGBA()
	c := rgba.RGBAAt(1, 0)
	if c.R != 10 || c.G != 20 || c.B != 30 || c.A != 255 {
		t.Errorf("ToRGBA pixel = %+v", c)
	}
	if got := img.At(1, 0).(color.RGBA); got.A != 255 {
		t.Errorf("At should be opaque, got %+v", got)
	}
	if r, g, b := img.RGBAt(5, 5); r != 0 || g != 0 || b != 0 {
		t.Error("out of bounds RGBAt should return zeros")
	}
}
