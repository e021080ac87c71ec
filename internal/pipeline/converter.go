package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"reflect"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Converter decodes, resizes and re-encodes images. It holds no per-call
// state and is safe for concurrent use.
type Converter struct {
	decoder  Decoder
	surfaces SurfaceFactory
	tracer   trace.Tracer
}

func NewConverter(resampler Resampler) *Converter {
	return &Converter{
		decoder:  StdDecoder{},
		surfaces: newSurfaceFactory(resampler),
		tracer:   otel.Tracer("resizeflow/pipeline"),
	}
}

// NewConverterWith builds a converter around custom stages.
func NewConverterWith(decoder Decoder, surfaces SurfaceFactory) *Converter {
	return &Converter{
		decoder:  decoder,
		surfaces: surfaces,
		tracer:   otel.Tracer("resizeflow/pipeline"),
	}
}

// FromBlob converts src according to opts. Validation failures are returned
// before src is read. The context is checked between stages; a stage that
// has started runs to completion.
func (c *Converter) FromBlob(ctx context.Context, src Source, opts Options) (*Blob, error) {
	if isNilSource(src) {
		return nil, NewError(KindType, fmt.Sprintf("expected a blob, got %T", src), nil)
	}
	if src.Size() == 0 {
		return nil, NewError(KindLoad, msgNotLoaded, nil)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	mimeType := opts.OutputType(src.Type())
	quality := opts.EncoderQuality()

	var background color.Color
	if opts.BackgroundColor != "" && mimeType == MimePNG {
		bg, err := ParseColor(opts.BackgroundColor)
		if err != nil {
			return nil, NewError(KindRange, msgBackground, err)
		}
		background = bg
	}

	ctx, span := c.tracer.Start(ctx, "pipeline.from_blob")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("blob.size", src.Size()),
		attribute.String("blob.type", src.Type()),
		attribute.String("output.type", mimeType),
	)

	out, err := c.run(ctx, src, opts, mimeType, quality, background)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("output.size", out.Size()))
	return out, nil
}

func (c *Converter) run(ctx context.Context, src Source, opts Options, mimeType string, quality float64, background color.Color) (*Blob, error) {
	data, err := c.read(ctx, src)
	if err != nil {
		return nil, err
	}

	img, err := c.decode(ctx, data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	size := ResolveSize(bounds.Dx(), bounds.Dy(), opts.Width, opts.Height)
	width, height := size.Bounds()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span := c.tracer.Start(ctx, "pipeline.render")
	span.SetAttributes(attribute.Int("surface.width", width), attribute.Int("surface.height", height))
	surface, err := c.newSurface(width, height)
	if err != nil {
		span.End()
		return nil, err
	}
	if background != nil {
		surface.Fill(background)
	}
	surface.Draw(img)
	span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span = c.tracer.Start(ctx, "pipeline.encode")
	encoded, err := surface.Encode(mimeType, quality)
	span.End()
	if err != nil || len(encoded) == 0 {
		return nil, NewError(KindEncode, msgEncode, err)
	}

	return NewBlob(encoded, mimeType), nil
}

func (c *Converter) read(ctx context.Context, src Source) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span := c.tracer.Start(ctx, "pipeline.read")
	defer span.End()

	rc, err := src.Open()
	if err != nil {
		return nil, NewError(KindIO, msgReadBlob, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, NewError(KindIO, msgReadBlob, err)
	}
	return data, nil
}

func (c *Converter) decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "pipeline.decode")
	defer span.End()

	img, err := c.decoder.Decode(ctx, data)
	if err != nil {
		return nil, NewError(KindLoad, msgNotLoaded, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, NewError(KindLoad, msgNotLoaded, errEmptyImage)
	}
	return img, nil
}

func (c *Converter) newSurface(width, height int) (Surface, error) {
	if c.surfaces == nil {
		return nil, NewError(KindSurface, msgSurface, nil)
	}
	surface, err := c.surfaces.NewSurface(width, height)
	if err != nil {
		return nil, NewError(KindSurface, msgSurface, err)
	}
	if surface == nil {
		return nil, NewError(KindSurface, msgSurface, nil)
	}
	return surface, nil
}

func isNilSource(src Source) bool {
	if src == nil {
		return true
	}
	v := reflect.ValueOf(src)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
