package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var errEmptyImage = errors.New("image has no pixels")

// Decoder turns raw bytes into a drawable image.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (image.Image, error)
}

// StdDecoder decodes anything registered with the image package: PNG, JPEG,
// GIF, BMP and WebP.
type StdDecoder struct{}

func (StdDecoder) Decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errEmptyImage
	}
	return img, nil
}
