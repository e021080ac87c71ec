// Command resize converts a single image from disk or a URL.
//
//	resize -in photo.png -out photo.jpg -quality 80 -width 640
//	resize -in https://example.com/a.png -format webp -out a.webp
//	resize -in icon.png -data-url
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/resizeflow/internal/fetch"
	"github.com/dunamismax/resizeflow/internal/pipeline"
)

func main() {
	logger := log.New(os.Stderr, "[resize] ", log.LstdFlags|log.Lmsgprefix)

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("start image runtime: %v", err)
	}
	defer pipeline.Shutdown()

	err := run(context.Background(), os.Args[1:], os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		kind, _ := pipeline.KindOf(err)
		logger.Printf("failed kind=%s err=%v", kind, err)
		pipeline.Shutdown()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("resize", flag.ContinueOnError)
	var (
		in         = fs.String("in", "", "input file path or http(s) URL")
		out        = fs.String("out", "", "output path; defaults to <input>.converted.<ext>, - writes to stdout")
		quality    = fs.Float64("quality", 100, "quality, a fraction in (0,1) or a percentage in [1,100]")
		width      = fs.String("width", "auto", "output width in pixels or auto")
		height     = fs.String("height", "auto", "output height in pixels or auto")
		format     = fs.String("format", "", "output format: png, jpeg, webp, gif, bmp; empty keeps the input type")
		background = fs.String("background", "", "background colour painted under PNG output")
		resampler  = fs.String("resampler", "bilinear", "nearest, bilinear, catmullrom or lanczos")
		dataURL    = fs.Bool("data-url", false, "print the input as a data URL instead of converting")
		timeout    = fs.Duration("timeout", 30*time.Second, "fetch timeout for URL inputs")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*in) == "" {
		fs.Usage()
		return errors.New("-in is required")
	}

	r, err := pipeline.ParseResampler(*resampler)
	if err != nil {
		return err
	}
	converter := pipeline.NewConverter(r)
	fetcher := fetch.NewClient(fetch.Config{Timeout: *timeout, UserAgent: "resizeflow-cli/1.0"}, converter)

	src, err := openInput(ctx, fetcher, *in)
	if err != nil {
		return err
	}

	if *dataURL {
		u, err := pipeline.BlobToURL(ctx, src)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, u)
		return err
	}

	w, err := pipeline.ParseDimension(*width)
	if err != nil {
		return pipeline.NewError(pipeline.KindType, "width must be a number or auto", err)
	}
	h, err := pipeline.ParseDimension(*height)
	if err != nil {
		return pipeline.NewError(pipeline.KindType, "height must be a number or auto", err)
	}

	opts := pipeline.Options{
		Quality:         *quality,
		Width:           w,
		Height:          h,
		Format:          pipeline.ParseFormat(*format),
		BackgroundColor: *background,
	}
	result, err := converter.FromBlob(ctx, src, opts)
	if err != nil {
		return err
	}

	target := *out
	if target == "" {
		target = defaultOutputPath(*in, result.Type())
	}
	if target == "-" {
		_, err := result.WriteTo(stdout)
		return err
	}
	if err := os.WriteFile(target, result.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, err = fmt.Fprintf(stdout, "wrote %s type=%s bytes=%d\n", target, result.Type(), result.Size())
	return err
}

func openInput(ctx context.Context, fetcher *fetch.Client, in string) (pipeline.Source, error) {
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
		blob, err := fetcher.URLToBlob(ctx, in, nil)
		if err != nil {
			return nil, err
		}
		return blob, nil
	}

	f, err := pipeline.OpenFile(in)
	if err != nil {
		return nil, pipeline.NewError(pipeline.KindIO, "failed to open input", err)
	}
	return f, nil
}

func defaultOutputPath(in, mimeType string) string {
	base := filepath.Base(in)
	if strings.Contains(in, "://") {
		base = "download"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base + ".converted." + pipeline.Extension(mimeType)
}
