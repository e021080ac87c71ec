package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromBlobConvertsPNGToJPEG(t *testing.T) {
	src := NewBlob(buildTestPNG(t, 240, 120), MimePNG)

	opts := DefaultOptions()
	opts.Quality = 80
	opts.Width = 100
	opts.Height = 100
	opts.Format = FormatJPEG

	out, err := NewConverter(ResampleBilinear).FromBlob(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("FromBlob returned error: %v", err)
	}
	if out.Type() != MimeJPEG {
		t.Fatalf("expected %s, got %s", MimeJPEG, out.Type())
	}

	img, err := jpeg.Decode(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(240, 120) {
		t.Fatalf("expected natural size 240x120 when both dimensions are fixed, got %v", got)
	}
}

func TestFromBlobResizesByWidth(t *testing.T) {
	src := NewBlob(buildTestPNG(t, 300, 200), MimePNG)

	opts := DefaultOptions()
	opts.Width = 100

	out, err := NewConverter(ResampleCatmullRom).FromBlob(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("FromBlob returned error: %v", err)
	}
	if out.Type() != MimePNG {
		t.Fatalf("expected source type to be kept, got %s", out.Type())
	}
	verifySize(t, out, 100, 66)
}

func TestFromBlobResizesByHeightWithLanczos(t *testing.T) {
	src := NewBlob(buildTestPNG(t, 300, 200), MimePNG)

	opts := DefaultOptions()
	opts.Height = 50
	opts.Format = FormatGIF

	out, err := NewConverter(ResampleLanczos).FromBlob(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("FromBlob returned error: %v", err)
	}
	if out.Type() != MimeGIF {
		t.Fatalf("expected %s, got %s", MimeGIF, out.Type())
	}
	verifySize(t, out, 75, 50)
}

func TestFromBlobBackgroundOnlyForPNG(t *testing.T) {
	src := NewBlob(buildTransparentPNG(t, 8, 8), MimePNG)
	conv := NewConverter(ResampleNearest)

	opts := DefaultOptions()
	opts.BackgroundColor = "#ff0000"
	out, err := conv.FromBlob(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("FromBlob png returned error: %v", err)
	}
	img := decodeBlob(t, out)
	r, g, b, a := img.At(0, 0).RGBA()
	if r>>8 != 0xff || g != 0 || b != 0 || a>>8 != 0xff {
		t.Fatalf("expected opaque red background, got %d %d %d %d", r>>8, g>>8, b>>8, a>>8)
	}

	opts.Format = FormatBMP
	out, err = conv.FromBlob(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("FromBlob bmp returned error: %v", err)
	}
	if out.Type() != MimeBMP {
		t.Fatalf("expected %s, got %s", MimeBMP, out.Type())
	}
	img = decodeBlob(t, out)
	if r, _, _, _ := img.At(0, 0).RGBA(); r != 0 {
		t.Fatalf("expected background to be ignored for bmp output, got red=%d", r>>8)
	}
}

func TestFromBlobValidation(t *testing.T) {
	pngBytes := buildTestPNG(t, 4, 4)

	cases := []struct {
		name    string
		src     Source
		mutate  func(*Options)
		kind    Kind
		message string
	}{
		{name: "nil source", src: nil, kind: KindType, message: "expected a blob, got <nil>"},
		{name: "typed nil", src: (*Blob)(nil), kind: KindType, message: "*pipeline.Blob"},
		{name: "empty", src: NewBlob(nil, MimePNG), kind: KindLoad, message: "corrupt or empty"},
		{name: "zero quality", src: NewBlob(pngBytes, MimePNG), mutate: func(o *Options) { o.Quality = 0 }, kind: KindRange, message: "quality must be greater than 0"},
		{name: "negative quality", src: NewBlob(pngBytes, MimePNG), mutate: func(o *Options) { o.Quality = -10 }, kind: KindRange, message: "quality must be greater than 0"},
		{name: "negative width", src: NewBlob(pngBytes, MimePNG), mutate: func(o *Options) { o.Width = -100 }, kind: KindRange, message: "invalid width or height"},
		{name: "negative height", src: NewBlob(pngBytes, MimePNG), mutate: func(o *Options) { o.Height = -100 }, kind: KindRange, message: "invalid width or height"},
		{name: "bad background", src: NewBlob(pngBytes, MimePNG), mutate: func(o *Options) { o.BackgroundColor = "not-a-color" }, kind: KindRange, message: "invalid background color"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoder := &countingDecoder{}
			conv := NewConverterWith(decoder, RasterFactory{})

			opts := DefaultOptions()
			if tc.mutate != nil {
				tc.mutate(&opts)
			}

			_, err := conv.FromBlob(context.Background(), tc.src, opts)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %s error, got %v", tc.kind, err)
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected message to contain %q, got %q", tc.message, err.Error())
			}
			if decoder.calls != 0 {
				t.Fatalf("expected decoder not to run, got %d calls", decoder.calls)
			}
		})
	}
}

func TestFromBlobIgnoresBadBackgroundForNonPNG(t *testing.T) {
	src := NewBlob(buildTestPNG(t, 4, 4), MimePNG)
	opts := DefaultOptions()
	opts.Format = FormatJPEG
	opts.BackgroundColor = "not-a-color"

	if _, err := NewConverter(ResampleBilinear).FromBlob(context.Background(), src, opts); err != nil {
		t.Fatalf("expected background to be ignored, got %v", err)
	}
}

func TestFromBlobStageFailures(t *testing.T) {
	pngBytes := buildTestPNG(t, 10, 10)

	t.Run("read", func(t *testing.T) {
		conv := NewConverter(ResampleBilinear)
		_, err := conv.FromBlob(context.Background(), failingSource{size: 10}, DefaultOptions())
		if !errors.Is(err, KindIO) {
			t.Fatalf("expected io error, got %v", err)
		}
	})

	t.Run("decode", func(t *testing.T) {
		conv := NewConverter(ResampleBilinear)
		_, err := conv.FromBlob(context.Background(), NewBlob([]byte("definitely not an image"), MimePNG), DefaultOptions())
		if !errors.Is(err, KindLoad) {
			t.Fatalf("expected load error, got %v", err)
		}
		if !strings.Contains(err.Error(), "corrupt or empty") {
			t.Fatalf("unexpected message %q", err.Error())
		}
	})

	t.Run("surface", func(t *testing.T) {
		conv := NewConverterWith(StdDecoder{}, failingFactory{})
		_, err := conv.FromBlob(context.Background(), NewBlob(pngBytes, MimePNG), DefaultOptions())
		if !errors.Is(err, KindSurface) {
			t.Fatalf("expected surface error, got %v", err)
		}
	})

	t.Run("nil factory", func(t *testing.T) {
		conv := NewConverterWith(StdDecoder{}, nil)
		_, err := conv.FromBlob(context.Background(), NewBlob(pngBytes, MimePNG), DefaultOptions())
		if !errors.Is(err, KindSurface) {
			t.Fatalf("expected surface error, got %v", err)
		}
	})

	t.Run("encode", func(t *testing.T) {
		conv := NewConverterWith(StdDecoder{}, emptyEncodeFactory{})
		_, err := conv.FromBlob(context.Background(), NewBlob(pngBytes, MimePNG), DefaultOptions())
		if !errors.Is(err, KindEncode) {
			t.Fatalf("expected encode error, got %v", err)
		}
	})

	t.Run("zero area", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Width = 1
		conv := NewConverter(ResampleBilinear)
		_, err := conv.FromBlob(context.Background(), NewBlob(buildTestPNG(t, 300, 2), MimePNG), opts)
		if !errors.Is(err, KindEncode) {
			t.Fatalf("expected encode error for a surface with no rows, got %v", err)
		}
	})

	for _, width := range []Dimension{1 << 20, math.MaxInt32, math.MaxInt} {
		t.Run(fmt.Sprintf("oversized width %d", width), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Width = width
			conv := NewConverter(ResampleBilinear)
			_, err := conv.FromBlob(context.Background(), NewBlob(buildTestPNG(t, 1, 1), MimePNG), opts)
			if !errors.Is(err, KindSurface) {
				t.Fatalf("expected surface error, got %v", err)
			}
		})
	}
}

func TestFromBlobHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decoder := &countingDecoder{}
	conv := NewConverterWith(decoder, RasterFactory{})
	_, err := conv.FromBlob(ctx, NewBlob(buildTestPNG(t, 4, 4), MimePNG), DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if decoder.calls != 0 {
		t.Fatalf("expected decoder not to run, got %d calls", decoder.calls)
	}
}

func TestFromBlobReadsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.png")
	if err := os.WriteFile(path, buildTestPNG(t, 50, 40), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if src.Type() != MimePNG {
		t.Fatalf("expected %s, got %s", MimePNG, src.Type())
	}

	opts := DefaultOptions()
	opts.Width = 25
	out, err := NewConverter(ResampleBilinear).FromBlob(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("FromBlob returned error: %v", err)
	}
	verifySize(t, out, 25, 20)
}

func TestEncoderQuality(t *testing.T) {
	cases := map[float64]float64{
		0.5: 0.5,
		1:   1,
		80:  0.8,
		100: 1,
	}
	for in, want := range cases {
		opts := DefaultOptions()
		opts.Quality = in
		if got := opts.EncoderQuality(); got != want {
			t.Fatalf("quality %v: expected %v, got %v", in, want, got)
		}
	}
}

type countingDecoder struct {
	calls int
}

func (d *countingDecoder) Decode(ctx context.Context, data []byte) (image.Image, error) {
	d.calls++
	return StdDecoder{}.Decode(ctx, data)
}

type failingSource struct {
	size int64
}

func (s failingSource) Size() int64  { return s.size }
func (s failingSource) Type() string { return MimePNG }
func (s failingSource) Open() (io.ReadCloser, error) {
	return nil, errors.New("disk on fire")
}

type failingFactory struct{}

func (failingFactory) NewSurface(int, int) (Surface, error) {
	return nil, errors.New("no rendering capability")
}

type emptyEncodeFactory struct{}

func (emptyEncodeFactory) NewSurface(int, int) (Surface, error) {
	return emptyEncodeSurface{}, nil
}

type emptyEncodeSurface struct{}

func (emptyEncodeSurface) Fill(color.Color) {}
func (emptyEncodeSurface) Draw(image.Image) {}
func (emptyEncodeSurface) Encode(string, float64) ([]byte, error) {
	return nil, nil
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTransparentPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode transparent png: %v", err)
	}
	return buf.Bytes()
}

func decodeBlob(t *testing.T, b *Blob) image.Image {
	t.Helper()

	img, _, err := image.Decode(bytes.NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("decode %s output: %v", b.Type(), err)
	}
	return img
}

func verifySize(t *testing.T, b *Blob, w, h int) {
	t.Helper()

	if got := decodeBlob(t, b).Bounds().Size(); got != image.Pt(w, h) {
		t.Fatalf("expected %dx%d, got %v", w, h, got)
	}
}
