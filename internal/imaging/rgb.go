package imaging

import (
	"image"
	"image/color"
)

// RGB is the canonical decoded image: three 8-bit channels per pixel, no
// alpha. Pix holds R, G, B for each pixel in row-major order.
type RGB struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewRGB returns a black RGB image with the given bounds.
func NewRGB(r image.Rectangle) *RGB {
	w, h := r.Dx(), r.Dy()
	return &RGB{
		Pix:    make([]uint8, 3*w*h),
		Stride: 3 * w,
		Rect:   r,
	}
}

// Channels is always 3.
func (p *RGB) Channels() int { return 3 }

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color {
	r, g, b := p.RGBAt(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// RGBAt returns the channel values at (x, y), or zeros outside the bounds.
func (p *RGB) RGBAt(x, y int) (r, g, b uint8) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return 0, 0, 0
	}
	i := p.PixOffset(x, y)
	return p.Pix[i], p.Pix[i+1], p.Pix[i+2]
}

// PixOffset returns the index of the first element of Pix for pixel (x, y).
func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// SetRGB sets the pixel at (x, y). Points outside the bounds are ignored.
func (p *RGB) SetRGB(x, y int, r, g, b uint8) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	p.Pix[i], p.Pix[i+1], p.Pix[i+2] = r, g, b
}

// ToRGBA returns an opaque *image.RGBA copy anchored at the origin, the
// layout resamplers have fast paths for.
func (p *RGB) ToRGBA() *image.RGBA {
	w, h := p.Rect.Dx(), p.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := p.Pix[y*p.Stride : y*p.Stride+3*w]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+4*w]
		for x := 0; x < w; x++ {
			row[4*x] = src[3*x]
			row[4*x+1] = src[3*x+1]
			row[4*x+2] = src[3*x+2]
			row[4*x+3] = 0xff
		}
	}
	return dst
}

// toRGB converts any decoded image into the canonical form. Alpha is
// dropped, not composited: a translucent red pixel stays red.
func toRGB(src image.Image) *RGB {
	b := src.Bounds()
	dst := NewRGB(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch s := src.(type) {
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				i := s.PixOffset(b.Min.X+x, b.Min.Y+y)
				dst.SetRGB(x, y, s.Pix[i], s.Pix[i+1], s.Pix[i+2])
			}
		}
	case *image.RGBA:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				i := s.PixOffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := unpremultiply(s.Pix[i], s.Pix[i+1], s.Pix[i+2], s.Pix[i+3])
				dst.SetRGB(x, y, r, g, bl)
			}
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				v := s.Pix[s.PixOffset(b.Min.X+x, b.Min.Y+y)]
				dst.SetRGB(x, y, v, v, v)
			}
		}
	case *image.YCbCr:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				yi := s.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := s.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(s.Y[yi], s.Cb[ci], s.Cr[ci])
				dst.SetRGB(x, y, r, g, bl)
			}
		}
	case *image.Paletted:
		palette := make([]color.NRGBA, len(s.Palette))
		for i, c := range s.Palette {
			palette[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				idx := int(s.Pix[s.PixOffset(b.Min.X+x, b.Min.Y+y)])
				if idx >= len(palette) {
					continue
				}
				c := palette[idx]
				dst.SetRGB(x, y, c.R, c.G, c.B)
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				dst.SetRGB(x, y, c.R, c.G, c.B)
			}
		}
	}
	return dst
}

func unpremultiply(r, g, b, a uint8) (uint8, uint8, uint8) {
	switch a {
	case 0xff:
		return r, g, b
	case 0:
		return 0, 0, 0
	}
	f := func(c uint8) uint8 {
		v := (uint32(c)*0xff + uint32(a)/2) / uint32(a)
		if v > 0xff {
			v = 0xff
		}
		return uint8(v)
	}
	return f(r), f(g), f(b)
}
