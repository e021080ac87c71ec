package pipeline

import (
	"context"
	"testing"
)

func BenchmarkFromBlobResizeJPEG(b *testing.B) {
	src := NewBlob(buildTestPNG(b, 1920, 1080), MimePNG)
	conv := NewConverter(ResampleBilinear)

	opts := DefaultOptions()
	opts.Quality = 82
	opts.Width = 640
	opts.Format = FormatJPEG

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conv.FromBlob(context.Background(), src, opts); err != nil {
			b.Fatalf("from blob: %v", err)
		}
	}
}

func BenchmarkFromBlobLanczosPNG(b *testing.B) {
	src := NewBlob(buildTestPNG(b, 1920, 1080), MimePNG)
	conv := NewConverter(ResampleLanczos)

	opts := DefaultOptions()
	opts.Height = 360
	opts.BackgroundColor = "white"

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conv.FromBlob(context.Background(), src, opts); err != nil {
			b.Fatalf("from blob: %v", err)
		}
	}
}
