package embedding

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"os"

	"github.com/nfnt/resize"
)

// CLIP normalization constants.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Transform is the CLIP image preprocessing: bicubic resize of the shortest
// side to ImageSize, center crop to CropSize, rescale to [0,1], then
// per-channel (x-mean)/std. Output layout is NCHW with a batch of one.
type Transform struct {
	ImageSize int
	CropSize  int
	Mean      [3]float32
	Std       [3]float32
}

// DefaultTransform returns the ViT-B/32 preprocessing.
func DefaultTransform() Transform {
	return Transform{ImageSize: 224, CropSize: 224, Mean: clipMean, Std: clipStd}
}

// Validate checks that the transform can produce finite output.
func (t Transform) Validate() error {
	if t.ImageSize <= 0 || t.CropSize <= 0 {
		return fmt.Errorf("image size %d and crop size %d must be positive", t.ImageSize, t.CropSize)
	}
	for c, s := range t.Std {
		if s == 0 || math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return fmt.Errorf("std[%d] = %v is not usable", c, s)
		}
	}
	return nil
}

// Shape returns the tensor shape Apply produces.
func (t Transform) Shape() []int64 {
	return []int64{1, 3, int64(t.CropSize), int64(t.CropSize)}
}

// Apply preprocesses img. The caller owns the returned tensor.
func (t Transform) Apply(img image.Image) (*Tensor, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("image has zero dimension %dx%d", b.Dx(), b.Dy())
	}

	src := img
	portrait := b.Dx() <= b.Dy()
	short, long := b.Dx(), b.Dy()
	if !portrait {
		short, long = long, short
	}
	crop := t.CropSize
	scale := float64(t.ImageSize) / float64(short)
	resizedLong := int(0.7 + float64(long)*scale)
	offset := int(math.Round(float64(resizedLong-crop) / 2))
	if resizedLong > t.maxResizedSide() {
		src, offset, resizedLong = cropLongAxis(src, portrait, scale, offset, crop)
	}

	w, h := uint(t.ImageSize), uint(resizedLong)
	if !portrait {
		w, h = h, w
	}
	resized := asRGBA(resize.Resize(w, h, asRGBA(src), resize.Bicubic))
	rb := resized.Bounds()

	left, top := int(math.Round(float64(rb.Dx()-crop)/2)), offset
	if !portrait {
		left, top = offset, int(math.Round(float64(rb.Dy()-crop)/2))
	}

	tensor, err := NewTensor(t.Shape()...)
	if err != nil {
		return nil, err
	}
	plane := crop * crop
	for y := 0; y < crop; y++ {
		sy := rb.Min.Y + top + y
		for x := 0; x < crop; x++ {
			sx := rb.Min.X + left + x
			var px [3]float32
			// Pixels outside the resized image pad with zero, as a center crop
			// larger than its input does.
			if (image.Point{X: sx, Y: sy}).In(rb) {
				i := resized.PixOffset(sx, sy)
				px[0] = float32(resized.Pix[i]) / 255
				px[1] = float32(resized.Pix[i+1]) / 255
				px[2] = float32(resized.Pix[i+2]) / 255
			}
			for c := 0; c < 3; c++ {
				tensor.Data[c*plane+y*crop+x] = (px[c] - t.Mean[c]) / t.Std[c]
			}
		}
	}
	return tensor, nil
}

// maxResizedSide bounds the long side of the intermediate resized image.
// Past it only the part of the source under the crop window is resized.
func (t Transform) maxResizedSide() int {
	return 2 * max(t.ImageSize, t.CropSize)
}

// cropLongAxis cuts src along its long axis to the source pixels that the
// crop window at offset (in resized coordinates) samples, plus the bicubic
// filter support. It returns the cut image with the window offset and long
// side recomputed for it.
func cropLongAxis(src image.Image, portrait bool, scale float64, offset, crop int) (*image.RGBA, int, int) {
	sb := src.Bounds()
	length := sb.Dx()
	if portrait {
		length = sb.Dy()
	}
	inv := 1 / scale
	margin := int(math.Ceil(2*math.Max(1, inv))) + 1
	first := max(int(math.Floor(float64(offset)*inv))-margin, 0)
	last := min(int(math.Ceil(float64(offset+crop)*inv))+margin, length)

	r := image.Rect(first, 0, last, sb.Dy())
	if portrait {
		r = image.Rect(0, first, sb.Dx(), last)
	}
	r = r.Add(sb.Min)
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)

	shift := int(math.Round(float64(first) * scale))
	resizedLong := max(int(math.Round(float64(last-first)*scale)), offset-shift+crop)
	return dst, offset - shift, resizedLong
}

func asRGBA(img image.Image) *image.RGBA {
	switch v := img.(type) {
	case *image.RGBA:
		return v
	case interface{ ToRGBA() *image.RGBA }:
		return v.ToRGBA()
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// preprocessorConfig is the subset of a Hugging Face preprocessor_config.json
// the transform needs. size and crop_size appear either as an integer or as
// an object depending on the exporter version.
type preprocessorConfig struct {
	ImageMean []float32       `json:"image_mean"`
	ImageStd  []float32       `json:"image_std"`
	Size      json.RawMessage `json:"size"`
	CropSize  json.RawMessage `json:"crop_size"`
}

// LoadPreprocessorConfig reads a Hugging Face preprocessor_config.json and
// overlays it on the CLIP defaults.
func LoadPreprocessorConfig(path string) (Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transform{}, fmt.Errorf("failed to read preprocessor config: %w", err)
	}
	return ParsePreprocessorConfig(data)
}

// ParsePreprocessorConfig parses preprocessor_config.json content.
func ParsePreprocessorConfig(data []byte) (Transform, error) {
	var raw preprocessorConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return Transform{}, fmt.Errorf("failed to parse preprocessor config: %w", err)
	}
	t := DefaultTransform()
	if len(raw.ImageMean) == 3 {
		copy(t.Mean[:], raw.ImageMean)
	}
	if len(raw.ImageStd) == 3 {
		copy(t.Std[:], raw.ImageStd)
	}
	if n, err := parseSize(raw.Size, "shortest_edge"); err != nil {
		return Transform{}, fmt.Errorf("size: %w", err)
	} else if n > 0 {
		t.ImageSize = n
	}
	if n, err := parseSize(raw.CropSize, "height"); err != nil {
		return Transform{}, fmt.Errorf("crop_size: %w", err)
	} else if n > 0 {
		t.CropSize = n
	}
	if err := t.Validate(); err != nil {
		return Transform{}, err
	}
	return t, nil
}

func parseSize(raw json.RawMessage, key string) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var m map[string]int
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, err
	}
	return m[key], nil
}
