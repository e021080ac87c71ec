package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/resizeflow/internal/pipeline"
)

const defaultMaxBodyBytes = 32 << 20

type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	// Transport replaces the default round tripper, mostly for tests.
	Transport http.RoundTripper
}

// Options shapes the single request made for a URL.
type Options struct {
	Method string
	Header http.Header
}

// BlobConverter is the part of the pipeline FromURL feeds into.
type BlobConverter interface {
	FromBlob(ctx context.Context, src pipeline.Source, opts pipeline.Options) (*pipeline.Blob, error)
}

type Client struct {
	httpClient   *http.Client
	converter    BlobConverter
	maxBodyBytes int64
	userAgent    string
}

func NewClient(cfg Config, converter BlobConverter) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
		},
		converter:    converter,
		maxBodyBytes: maxBody,
		userAgent:    strings.TrimSpace(cfg.UserAgent),
	}
}

// URLToBlob fetches url once and returns the body as a blob typed with the
// response's media type.
func (c *Client) URLToBlob(ctx context.Context, url string, opts *Options) (*pipeline.Blob, error) {
	req, err := c.newRequest(ctx, url, opts)
	if err != nil {
		return nil, pipeline.NewError(pipeline.KindNetwork, "failed to fetch image from URL", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipeline.NewError(pipeline.KindNetwork, "failed to fetch image from URL", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, pipeline.NewError(pipeline.KindHTTP, "failed to fetch image: "+statusText(resp), nil)
	}

	if resp.ContentLength > c.maxBodyBytes {
		return nil, pipeline.NewError(pipeline.KindSize, fmt.Sprintf("response body exceeds %d bytes", c.maxBodyBytes), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, pipeline.NewError(pipeline.KindNetwork, "failed to fetch image from URL", fmt.Errorf("read response body: %w", err))
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, pipeline.NewError(pipeline.KindSize, fmt.Sprintf("response body exceeds %d bytes", c.maxBodyBytes), nil)
	}

	return pipeline.NewBlob(body, mediaType(resp.Header.Get("Content-Type"))), nil
}

// FromURL fetches url and converts it. Every failure, from either stage, is
// folded into one network-or-processing error that keeps the cause.
func (c *Client) FromURL(ctx context.Context, url string, convert pipeline.Options, opts *Options) (*pipeline.Blob, error) {
	out, err := c.fromURL(ctx, url, convert, opts)
	if err != nil {
		return nil, pipeline.NewError(
			pipeline.KindNetworkOrProcessing,
			"failed to process the image from URL, check CORS or network issues",
			err,
		)
	}
	return out, nil
}

func (c *Client) fromURL(ctx context.Context, url string, convert pipeline.Options, opts *Options) (*pipeline.Blob, error) {
	if c.converter == nil {
		return nil, fmt.Errorf("converter is required")
	}

	blob, err := c.URLToBlob(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	return c.converter.FromBlob(ctx, blob, convert)
}

func (c *Client) newRequest(ctx context.Context, url string, opts *Options) (*http.Request, error) {
	method := http.MethodGet
	if opts != nil && strings.TrimSpace(opts.Method) != "" {
		method = strings.ToUpper(strings.TrimSpace(opts.Method))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if opts != nil {
		for key, values := range opts.Header {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// statusText is the server's reason phrase, or the standard one when the
// server sent none.
func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func mediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(contentType)
	}
	return base
}
