package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/resizeflow/internal/domain"
	"github.com/dunamismax/resizeflow/internal/fetch"
	"github.com/dunamismax/resizeflow/internal/pipeline"
)

type urlRequest struct {
	URL     string                 `json:"url"`
	Method  string                 `json:"method,omitempty"`
	Headers map[string]string      `json:"headers,omitempty"`
	Convert domain.ConvertSettings `json:"convert"`
}

func (r urlRequest) fetchOptions() *fetch.Options {
	opts := &fetch.Options{Method: r.Method}
	if len(r.Headers) > 0 {
		opts.Header = make(http.Header, len(r.Headers))
		for k, v := range r.Headers {
			opts.Header.Set(k, v)
		}
	}
	return opts
}

func (r urlRequest) validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return pipeline.NewError(pipeline.KindType, "url is required", nil)
	}
	return nil
}

// handleConvert converts the raw request body. Options come from the query
// string so the body can be the image itself.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	settings, err := settingsFromQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	src, err := s.readBlob(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.converter.FromBlob(r.Context(), src, settings.Options())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeBlob(w, out)
}

func (s *Server) handleConvertURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.fetcher.FromURL(r.Context(), req.URL, req.Convert.Options(), req.fetchOptions())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeBlob(w, out)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.fetcher.URLToBlob(r.Context(), req.URL, req.fetchOptions())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeBlob(w, out)
}

func (s *Server) handleDataURL(w http.ResponseWriter, r *http.Request) {
	src, err := s.readBlob(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dataURL, err := pipeline.BlobToURL(r.Context(), src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data_url": dataURL,
		"type":     src.Type(),
		"bytes":    src.Size(),
	})
}

// readBlob buffers the request body up to the upload limit. The blob type is
// the request's Content-Type, or a sniffed type when none was sent.
func (s *Server) readBlob(w http.ResponseWriter, r *http.Request) (*pipeline.Blob, error) {
	body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, pipeline.NewError(pipeline.KindSize, "file size exceeds the maximum allowed limit", err)
		}
		return nil, pipeline.NewError(pipeline.KindIO, "error reading blob", err)
	}

	contentType := mediaType(r.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = pipeline.SniffType(data)
	}
	return pipeline.NewBlob(data, contentType), nil
}

func settingsFromQuery(q url.Values) (domain.ConvertSettings, error) {
	var settings domain.ConvertSettings

	if raw := strings.TrimSpace(q.Get("quality")); raw != "" {
		quality, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return settings, pipeline.NewError(pipeline.KindType, "quality must be a number", err)
		}
		settings.Quality = &quality
	}

	width, err := pipeline.ParseDimension(q.Get("width"))
	if err != nil {
		return settings, pipeline.NewError(pipeline.KindType, "width must be a number or auto", err)
	}
	height, err := pipeline.ParseDimension(q.Get("height"))
	if err != nil {
		return settings, pipeline.NewError(pipeline.KindType, "height must be a number or auto", err)
	}
	settings.Width = width
	settings.Height = height
	settings.Format = q.Get("format")
	settings.BackgroundColor = q.Get("background")
	return settings, nil
}

func writeBlob(w http.ResponseWriter, b *pipeline.Blob) {
	contentType := b.Type()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(b.Size(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = b.WriteTo(w)
}

func mediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return base
}
