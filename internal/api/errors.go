package api

import (
	"errors"
	"net/http"

	"github.com/dunamismax/resizeflow/internal/pipeline"
)

// statusForError maps the outermost error kind to an HTTP status.
func statusForError(err error) int {
	if errors.Is(err, errStorageUnavailable) {
		return http.StatusServiceUnavailable
	}

	kind, ok := pipeline.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case pipeline.KindType, pipeline.KindRange, pipeline.KindLoad:
		return http.StatusBadRequest
	case pipeline.KindSize:
		return http.StatusRequestEntityTooLarge
	case pipeline.KindHTTP, pipeline.KindNetwork, pipeline.KindNetworkOrProcessing:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	kind, _ := pipeline.KindOf(err)
	s.metrics.errorsTotal.WithLabelValues(routeLabel(r.URL.Path), kindLabel(kind)).Inc()
	if status >= http.StatusInternalServerError {
		s.logger.Printf("request failed method=%s path=%s kind=%s err=%v", r.Method, r.URL.Path, kind, err)
	}

	body := map[string]string{"error": err.Error()}
	if kind != "" {
		body["kind"] = string(kind)
	}
	writeJSON(w, status, body)
}

func kindLabel(kind pipeline.Kind) string {
	if kind == "" {
		return "internal"
	}
	return string(kind)
}
