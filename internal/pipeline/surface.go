package pipeline

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// MaxSurfacePixels caps the area of a drawing surface.
const MaxSurfacePixels = 1 << 28

var (
	errEmptySurface    = errors.New("surface has no pixels")
	errSurfaceTooLarge = errors.New("surface exceeds maximum area")
)

// Surface is an offscreen raster the converter paints into and encodes.
type Surface interface {
	Fill(c color.Color)
	// Draw scales img into the whole surface, compositing source-over.
	Draw(img image.Image)
	Encode(mimeType string, quality float64) ([]byte, error)
}

type SurfaceFactory interface {
	NewSurface(width, height int) (Surface, error)
}

// Resampler picks the scaling kernel used by Draw.
type Resampler string

const (
	ResampleNearest    Resampler = "nearest"
	ResampleBilinear   Resampler = "bilinear"
	ResampleCatmullRom Resampler = "catmullrom"
	ResampleLanczos    Resampler = "lanczos"
)

func ParseResampler(s string) (Resampler, error) {
	switch r := Resampler(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return ResampleBilinear, nil
	case ResampleNearest, ResampleBilinear, ResampleCatmullRom, ResampleLanczos:
		return r, nil
	default:
		return "", fmt.Errorf("unsupported resampler: %s", s)
	}
}

func (r Resampler) interpolator() draw.Interpolator {
	switch r {
	case ResampleNearest:
		return draw.NearestNeighbor
	case ResampleCatmullRom:
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

// RasterFactory hands out in-memory RGBA surfaces.
type RasterFactory struct {
	Resampler Resampler
}

func (f RasterFactory) NewSurface(width, height int) (Surface, error) {
	return f.newRaster(width, height)
}

func (f RasterFactory) newRaster(width, height int) (*rasterSurface, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	if width > 0 && height > MaxSurfacePixels/width {
		return nil, fmt.Errorf("%w: %dx%d", errSurfaceTooLarge, width, height)
	}
	return &rasterSurface{
		dst:       image.NewRGBA(image.Rect(0, 0, width, height)),
		resampler: f.Resampler,
	}, nil
}

type rasterSurface struct {
	dst       *image.RGBA
	resampler Resampler
}

func (s *rasterSurface) Fill(c color.Color) {
	draw.Draw(s.dst, s.dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Over)
}

func (s *rasterSurface) Draw(img image.Image) {
	r := s.dst.Bounds()
	if r.Empty() {
		return
	}

	if s.resampler == ResampleLanczos {
		scaled := imaging.Resize(img, r.Dx(), r.Dy(), imaging.Lanczos)
		draw.Draw(s.dst, r, scaled, image.Point{}, draw.Over)
		return
	}
	s.resampler.interpolator().Scale(s.dst, r, img, img.Bounds(), draw.Over, nil)
}

func (s *rasterSurface) Encode(mimeType string, quality float64) ([]byte, error) {
	if s.dst.Bounds().Empty() {
		return nil, errEmptySurface
	}
	return encodeImage(s.dst, mimeType, quality)
}
