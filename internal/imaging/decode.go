// Package imaging decodes uploaded image bytes into a canonical three-channel image.
//
// The encoding is sniffed from content; file names and declared content types
// are never consulted. Decoding is all-or-nothing: callers get either a
// complete *RGB or a *DecodeError.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Limits bound what Decode accepts. Zero fields mean no bound.
type Limits struct {
	MaxBytes  int64
	MaxPixels int64
}

// DefaultLimits matches the service defaults: 20 MiB, 40 megapixels.
func DefaultLimits() Limits {
	return Limits{MaxBytes: 20 << 20, MaxPixels: 40_000_000}
}

// Decode parses data into a canonical RGB image.
//
// Empty, truncated or non-image input fails with KindMalformed. Input that
// sniffs as an image type without a registered decoder (HEIC, AVIF, ICO, ...)
// fails with KindUnsupported. Input over limits fails with KindTooLarge before
// any pixel buffer is allocated.
func Decode(data []byte, limits Limits) (*RGB, error) {
	if len(data) == 0 {
		return nil, malformed("", errors.New("empty input"))
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return nil, tooLarge("", "%d bytes exceeds limit of %d", len(data), limits.MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			if mediaType := Sniff(data); strings.HasPrefix(mediaType, "image/") {
				return nil, &DecodeError{Kind: KindUnsupported, Format: mediaType}
			}
			return nil, malformed("", errors.New("not a recognized image encoding"))
		}
		return nil, malformed(format, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, malformed(format, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); limits.MaxPixels > 0 && pixels > limits.MaxPixels {
		return nil, tooLarge(format, "%dx%d exceeds limit of %d pixels", cfg.Width, cfg.Height, limits.MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, malformed(format, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, malformed(format, fmt.Errorf("invalid dimensions %dx%d", b.Dx(), b.Dy()))
	}
	return toRGB(img), nil
}

// Sniff returns the media type detected from the leading bytes of data.
func Sniff(data []byte) string {
	mediaType := mimetype.Detect(data).String()
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return mediaType
}
