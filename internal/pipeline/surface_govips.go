//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"

	"github.com/davidbyttow/govips/v2/vips"
)

// vipsFactory draws with the raster surface and hands the pixels to libvips
// for JPEG, PNG and WebP export.
type vipsFactory struct {
	raster RasterFactory
}

func (f vipsFactory) NewSurface(width, height int) (Surface, error) {
	s, err := f.raster.newRaster(width, height)
	if err != nil {
		return nil, err
	}
	return &vipsSurface{rasterSurface: s}, nil
}

type vipsSurface struct {
	*rasterSurface
}

func (s *vipsSurface) Encode(mimeType string, quality float64) ([]byte, error) {
	mimeType = strings.ToLower(mimeType)
	switch mimeType {
	case MimeJPEG, MimePNG, MimeWEBP:
	default:
		return s.rasterSurface.Encode(mimeType, quality)
	}

	if s.dst.Bounds().Empty() {
		return nil, errEmptySurface
	}

	var raw bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&raw, s.dst); err != nil {
		return nil, fmt.Errorf("stage pixels for vips: %w", err)
	}

	img, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load pixels into vips: %w", err)
	}
	defer img.Close()

	return exportGovipsImage(img, mimeType, qualityPercent(quality))
}

func exportGovipsImage(img *vips.ImageRef, mimeType string, quality int) ([]byte, error) {
	switch mimeType {
	case MimeJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case MimePNG:
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case MimeWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output type: %s", mimeType)
	}
}
