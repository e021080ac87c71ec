package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/resizeflow/internal/pipeline"
)

func TestRunConvertsFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	writePNG(t, in, 60, 30)
	out := filepath.Join(dir, "out.jpg")

	var stdout bytes.Buffer
	err := run(context.Background(), []string{"-in", in, "-out", out, "-width", "30", "-format", "jpg", "-quality", "80"}, &stdout)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if !strings.Contains(stdout.String(), "type=image/jpeg") {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" || cfg.Width != 30 || cfg.Height != 15 {
		t.Fatalf("expected 30x15 jpeg, got %dx%d %s", cfg.Width, cfg.Height, format)
	}
}

func TestRunDataURL(t *testing.T) {
	in := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(in, []byte("test"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	var stdout bytes.Buffer
	if err := run(context.Background(), []string{"-in", in, "-data-url"}, &stdout); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "data:text/plain;base64,dGVzdA==" {
		t.Fatalf("unexpected data url %q", got)
	}
}

func TestRunRejectsZeroQuality(t *testing.T) {
	in := filepath.Join(t.TempDir(), "in.png")
	writePNG(t, in, 4, 4)

	err := run(context.Background(), []string{"-in", in, "-out", "-", "-quality", "0"}, &bytes.Buffer{})
	if !errors.Is(err, pipeline.KindRange) {
		t.Fatalf("expected range error, got %v", err)
	}
}

func TestRunRequiresInput(t *testing.T) {
	if err := run(context.Background(), []string{"-width", "10"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error without -in")
	}
}

func TestDefaultOutputPath(t *testing.T) {
	if got := defaultOutputPath("/tmp/photo.png", pipeline.MimeWEBP); got != "photo.converted.webp" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := defaultOutputPath("https://example.com/a.png", pipeline.MimeJPEG); got != "download.converted.jpg" {
		t.Fatalf("unexpected path %q", got)
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
}
