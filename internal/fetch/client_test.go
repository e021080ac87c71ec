package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/resizeflow/internal/pipeline"
)

func TestURLToBlob(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Test")
		w.Header().Set("Content-Type", "image/png; charset=binary")
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	client := NewClient(Config{Timeout: 2 * time.Second}, nil)
	blob, err := client.URLToBlob(context.Background(), srv.URL, &Options{
		Header: http.Header{"X-Test": []string{"yes"}},
	})
	if err != nil {
		t.Fatalf("URLToBlob returned error: %v", err)
	}

	if blob.Type() != "image/png" {
		t.Fatalf("expected image/png, got %q", blob.Type())
	}
	if string(blob.Bytes()) != "payload" {
		t.Fatalf("unexpected body %q", blob.Bytes())
	}
	if gotHeader != "yes" {
		t.Fatalf("expected request header to be forwarded, got %q", gotHeader)
	}
}

func TestURLToBlobNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Config{}, nil)
	_, err := client.URLToBlob(context.Background(), srv.URL+"/img.jpg", nil)
	if !errors.Is(err, pipeline.KindHTTP) {
		t.Fatalf("expected http error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Not Found") {
		t.Fatalf("expected message to contain Not Found, got %q", err.Error())
	}
}

func TestURLToBlobUsesServerReasonPhrase(t *testing.T) {
	cases := []struct {
		status string
		want   string
	}{
		{status: "404 Gone Fishing", want: "failed to fetch image: Gone Fishing"},
		{status: "503", want: "failed to fetch image: Service Unavailable"},
	}

	for _, tc := range cases {
		client := NewClient(Config{Transport: statusTransport{status: tc.status}}, nil)
		_, err := client.URLToBlob(context.Background(), "https://example.com/img.jpg", nil)
		if !errors.Is(err, pipeline.KindHTTP) {
			t.Fatalf("%s: expected http error, got %v", tc.status, err)
		}
		if err.Error() != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.status, tc.want, err.Error())
		}
	}
}

func TestURLToBlobNetworkError(t *testing.T) {
	client := NewClient(Config{Transport: failingTransport{err: errors.New("Network error")}}, nil)

	_, err := client.URLToBlob(context.Background(), "https://x/img.jpg", nil)
	if !errors.Is(err, pipeline.KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Network error") {
		t.Fatalf("expected original error text, got %q", err.Error())
	}
}

func TestURLToBlobBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
	}))
	defer srv.Close()

	client := NewClient(Config{MaxBodyBytes: 16}, nil)
	_, err := client.URLToBlob(context.Background(), srv.URL, nil)
	if !errors.Is(err, pipeline.KindSize) {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestFromURL(t *testing.T) {
	source := buildTestPNG(t, 40, 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(source)
	}))
	defer srv.Close()

	client := NewClient(Config{}, pipeline.NewConverter(pipeline.ResampleBilinear))

	opts := pipeline.DefaultOptions()
	opts.Width = 20
	opts.Format = pipeline.FormatJPEG

	blob, err := client.FromURL(context.Background(), srv.URL, opts, nil)
	if err != nil {
		t.Fatalf("FromURL returned error: %v", err)
	}
	if blob.Type() != pipeline.MimeJPEG {
		t.Fatalf("expected %s, got %s", pipeline.MimeJPEG, blob.Type())
	}

	img, _, err := image.Decode(bytes.NewReader(blob.Bytes()))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(20, 10) {
		t.Fatalf("expected 20x10, got %v", got)
	}
}

func TestFromURLWrapsFetchFailure(t *testing.T) {
	conv := &recordingConverter{}
	client := NewClient(Config{Transport: failingTransport{err: errors.New("Network error")}}, conv)

	_, err := client.FromURL(context.Background(), "https://example.com/image.jpg", pipeline.DefaultOptions(), nil)
	if !errors.Is(err, pipeline.KindNetworkOrProcessing) {
		t.Fatalf("expected network-or-processing error, got %v", err)
	}
	for _, want := range []string{"CORS or network", "Network error"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected message to contain %q, got %q", want, err.Error())
		}
	}
	if conv.calls != 0 {
		t.Fatalf("expected converter not to run, got %d calls", conv.calls)
	}
}

func TestFromURLWrapsProcessingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("test"))
	}))
	defer srv.Close()

	conv := &recordingConverter{err: errors.New("Processing error")}
	client := NewClient(Config{}, conv)

	_, err := client.FromURL(context.Background(), srv.URL, pipeline.DefaultOptions(), nil)
	if !errors.Is(err, pipeline.KindNetworkOrProcessing) {
		t.Fatalf("expected network-or-processing error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Processing error") {
		t.Fatalf("expected original error text, got %q", err.Error())
	}
	if conv.calls != 1 || conv.lastType != "text/plain" {
		t.Fatalf("expected converter to receive the fetched blob, calls=%d type=%q", conv.calls, conv.lastType)
	}
	if conv.lastOpts.Quality != 100 || !conv.lastOpts.Width.IsAuto() || !conv.lastOpts.Height.IsAuto() {
		t.Fatalf("expected default options to be forwarded, got %+v", conv.lastOpts)
	}
}

func TestFromURLWrapsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Config{}, &recordingConverter{})
	_, err := client.FromURL(context.Background(), srv.URL, pipeline.DefaultOptions(), nil)
	if !errors.Is(err, pipeline.KindHTTP) {
		t.Fatalf("expected wrapped http error, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed to fetch image: Not Found") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

type failingTransport struct {
	err error
}

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, f.err
}

type statusTransport struct {
	status string
}

func (s statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	code, err := strconv.Atoi(strings.Fields(s.status)[0])
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:     s.status,
		StatusCode: code,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

type recordingConverter struct {
	calls    int
	lastType string
	lastOpts pipeline.Options
	err      error
}

func (c *recordingConverter) FromBlob(_ context.Context, src pipeline.Source, opts pipeline.Options) (*pipeline.Blob, error) {
	c.calls++
	c.lastType = src.Type()
	c.lastOpts = opts
	if c.err != nil {
		return nil, c.err
	}
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return pipeline.NewBlob(data, src.Type()), nil
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
