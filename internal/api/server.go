package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/resizeflow/internal/domain"
	"github.com/dunamismax/resizeflow/internal/fetch"
	"github.com/dunamismax/resizeflow/internal/id"
	"github.com/dunamismax/resizeflow/internal/pipeline"
	"github.com/dunamismax/resizeflow/internal/queue"
	"github.com/dunamismax/resizeflow/internal/storage"
	"github.com/dunamismax/resizeflow/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxUploadBytes = 32 << 20

type Server struct {
	logger                *log.Logger
	converter             fetch.BlobConverter
	fetcher               urlClient
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	presignTTL            time.Duration
	maxUploadBytes        int64
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type urlClient interface {
	URLToBlob(ctx context.Context, url string, opts *fetch.Options) (*pipeline.Blob, error)
	FromURL(ctx context.Context, url string, convert pipeline.Options, opts *fetch.Options) (*pipeline.Blob, error)
}

type queueEnqueuer interface {
	EnqueueConvertImage(ctx context.Context, payload queue.ConvertImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Deps wires the server. Queue, Storage and RateLimiter are optional: the
// conversion endpoints work without any of them.
type Deps struct {
	Converter   fetch.BlobConverter
	Fetcher     urlClient
	Queue       queueEnqueuer
	JobStore    store.JobStore
	Storage     objectStorage
	RateLimiter RateLimiter
}

type Config struct {
	PresignTTL            time.Duration
	MaxUploadBytes        int64
	RateLimitUserIDHeader string
}

func NewServer(logger *log.Logger, deps Deps, cfg Config) *Server {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if strings.TrimSpace(cfg.RateLimitUserIDHeader) == "" {
		cfg.RateLimitUserIDHeader = "X-User-ID"
	}
	if deps.Converter == nil {
		deps.Converter = pipeline.NewConverter(pipeline.ResampleBilinear)
	}
	if deps.Fetcher == nil {
		deps.Fetcher = fetch.NewClient(fetch.Config{}, deps.Converter)
	}
	if deps.Queue == nil {
		deps.Queue = unavailableQueue{}
	}
	if deps.JobStore == nil {
		deps.JobStore = store.NewMemoryJobStore()
	}
	if deps.Storage == nil {
		deps.Storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                logger,
		converter:             deps.Converter,
		fetcher:               deps.Fetcher,
		queueClient:           deps.Queue,
		jobStore:              deps.JobStore,
		storage:               deps.Storage,
		rateLimiter:           deps.RateLimiter,
		rateLimitUserIDHeader: cfg.RateLimitUserIDHeader,
		presignTTL:            cfg.PresignTTL,
		maxUploadBytes:        cfg.MaxUploadBytes,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("resizeflow/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

var errStorageUnavailable = errors.New("object storage is unavailable")

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errStorageUnavailable
}

type unavailableQueue struct{}

func (unavailableQueue) EnqueueConvertImage(context.Context, queue.ConvertImagePayload) (*asynq.TaskInfo, error) {
	return nil, errors.New("job queue is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /v1/convert", s.handleConvert)
	s.mux.HandleFunc("POST /v1/convert/url", s.handleConvertURL)
	s.mux.HandleFunc("POST /v1/fetch", s.handleFetch)
	s.mux.HandleFunc("POST /v1/data-url", s.handleDataURL)

	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = storage.SourceKey(jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed job_id=%s err=%v", jobID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     userID,
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		SourceURL:  strings.TrimSpace(req.SourceURL),
		ObjectKey:  objectKey,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		Convert:    req.Convert,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job already started", "status": job.Status})
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	taskInfo, err := s.queueClient.EnqueueConvertImage(r.Context(), queue.PayloadFromJob(job, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "job already started"})
			return
		}
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	body := map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"convert":     job.Convert,
		"result":      job.Result,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}

	if job.Status == domain.JobStatusSucceeded && job.SourceType != domain.SourceTypeLocalFile && job.Result.OutputKey != "" {
		url, err := s.storage.PresignedGetURL(r.Context(), job.Result.OutputKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("presign output failed job_id=%s err=%v", job.ID, err)
		} else {
			body["download_url"] = url
		}
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeURL:
		return nil
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
