package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/chai2010/webp"
	"golang.org/x/image/bmp"
)

// encodeImage writes img in the requested media type. Types without an
// encoder fall back to PNG bytes; the caller still tags the result with the
// type it asked for.
func encodeImage(img image.Image, mimeType string, quality float64) ([]byte, error) {
	var buf bytes.Buffer

	switch strings.ToLower(mimeType) {
	case MimeJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: qualityPercent(quality)}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case MimeWEBP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(qualityPercent(quality))}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	case MimeGIF:
		if err := gif.Encode(&buf, img, &gif.Options{NumColors: 256}); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case MimeBMP:
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode bmp: %w", err)
		}
	default:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// qualityPercent turns an encoder quality in (0, 1] into 1..100.
func qualityPercent(quality float64) int {
	q := int(math.Round(quality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
