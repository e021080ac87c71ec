package pipeline

import "strings"

// Options controls a single conversion. Start from DefaultOptions: a zero
// Quality is rejected.
type Options struct {
	// Quality is either a fraction in (0, 1) or a percentage in [1, 100].
	// Exactly 1 counts as the fraction 1.0.
	Quality float64
	Width   Dimension
	Height  Dimension
	// Format overrides the output type. Empty keeps the source's type.
	Format Format
	// BackgroundColor is painted under the image for PNG output only.
	BackgroundColor string
}

func DefaultOptions() Options {
	return Options{
		Quality: 100,
		Width:   Auto,
		Height:  Auto,
	}
}

// Validate runs the range checks that don't depend on the source.
func (o Options) Validate() error {
	if o.Quality <= 0 {
		return NewError(KindRange, msgQualityRange, nil)
	}
	if o.Width < 0 || o.Height < 0 {
		return NewError(KindRange, msgDimensionRange, nil)
	}
	return nil
}

// EncoderQuality is the quality handed to the encoder, in (0, 1] for any
// input up to 100.
func (o Options) EncoderQuality() float64 {
	if o.Quality <= 1 {
		return o.Quality
	}
	return o.Quality / 100
}

// OutputType is the media type the result will carry.
func (o Options) OutputType(sourceType string) string {
	if strings.TrimSpace(string(o.Format)) != "" {
		return MimeType(o.Format)
	}
	return sourceType
}
