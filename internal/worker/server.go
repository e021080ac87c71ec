package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/resizeflow/internal/config"
	"github.com/dunamismax/resizeflow/internal/domain"
	"github.com/dunamismax/resizeflow/internal/fetch"
	"github.com/dunamismax/resizeflow/internal/pipeline"
	"github.com/dunamismax/resizeflow/internal/queue"
	"github.com/dunamismax/resizeflow/internal/storage"
	"github.com/dunamismax/resizeflow/internal/store"
	"github.com/dunamismax/resizeflow/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	converter     fetch.BlobConverter
	fetcher       urlFetcher
	objects       objectStore
	localDir      string
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type urlFetcher interface {
	URLToBlob(ctx context.Context, url string, opts *fetch.Options) (*pipeline.Blob, error)
}

type objectStore interface {
	ReadBlob(ctx context.Context, objectKey string) (*pipeline.Blob, error)
	WriteBlob(ctx context.Context, objectKey string, src pipeline.Source) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Deps are the collaborators a worker converts with. Storage may be nil when
// only url and local_file jobs are expected.
type Deps struct {
	Converter  fetch.BlobConverter
	Fetcher    *fetch.Client
	Storage    *storage.Client
	Webhook    *webhook.Client
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Converter == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetch client is required")
	}

	s := newServer(logger, workerCfg, deps.Converter, deps.Fetcher, deps.JobStore, deps.UsageStore)
	if deps.Storage != nil {
		s.objects = deps.Storage
	}
	if deps.Webhook != nil {
		s.webhookClient = deps.Webhook
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func newServer(
	logger *log.Logger,
	workerCfg config.WorkerConfig,
	converter fetch.BlobConverter,
	fetcher urlFetcher,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) *Server {
	if usageStore == nil {
		if both, ok := jobStore.(store.UsageStore); ok {
			usageStore = both
		}
	}

	return &Server{
		logger:     logger,
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		converter:  converter,
		fetcher:    fetcher,
		localDir:   workerCfg.LocalOutputDir,
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("resizeflow/worker"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertImage, s.handleConvertImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseConvertImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.convert(ctx, payload)
}

func (s *Server) convert(ctx context.Context, payload queue.ConvertImagePayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.convert_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.format", payload.Convert.Format),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"working job_id=%s source_type=%s object_key=%s format=%s",
		payload.JobID,
		payload.SourceType,
		payload.ObjectKey,
		payload.Convert.Format,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, sourceBytes, err := s.run(ctx, payload)
	if err != nil {
		kind, _ := pipeline.KindOf(err)
		s.metrics.failuresTotal.WithLabelValues(kindLabel(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "convert failed")

		retry := isTransient(err) && !finalAttempt(ctx)
		if retry {
			s.logger.Printf("convert failed, will retry job_id=%s kind=%s err=%v", payload.JobID, kindLabel(kind), err)
			return fmt.Errorf("convert job %s: %w", payload.JobID, err)
		}

		s.setResult(ctx, payload.JobID, domain.JobStatusFailed, domain.JobResult{Error: err.Error()})
		s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, webhook.JobEvent{
			JobID:      payload.JobID,
			Status:     domain.JobStatusFailed,
			ErrorKind:  string(kind),
			Error:      err.Error(),
			FinishedAt: time.Now().UTC(),
		})
		if isTransient(err) {
			return fmt.Errorf("convert job %s: %w", payload.JobID, err)
		}
		return fmt.Errorf("convert job %s: %w: %w", payload.JobID, err, asynq.SkipRetry)
	}

	s.logger.Printf(
		"converted job_id=%s output_key=%s type=%s bytes=%d size=%dx%d",
		payload.JobID,
		result.OutputKey,
		result.OutputType,
		result.Bytes,
		result.Width,
		result.Height,
	)
	s.setResult(ctx, payload.JobID, domain.JobStatusSucceeded, result)
	s.metrics.outputBytesTotal.WithLabelValues(result.OutputType).Add(float64(result.Bytes))
	s.recordUsage(ctx, payload, result, sourceBytes, time.Since(startedAt))

	s.dispatchWebhook(ctx, payload, webhook.EventJobSucceeded, webhook.JobEvent{
		JobID:      payload.JobID,
		Status:     domain.JobStatusSucceeded,
		OutputKey:  result.OutputKey,
		OutputType: result.OutputType,
		Bytes:      result.Bytes,
		Width:      result.Width,
		Height:     result.Height,
		FinishedAt: time.Now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "converted")
	return nil
}

func (s *Server) run(ctx context.Context, payload queue.ConvertImagePayload) (domain.JobResult, int64, error) {
	src, err := s.loadSource(ctx, payload)
	if err != nil {
		return domain.JobResult{}, 0, err
	}

	out, err := s.converter.FromBlob(ctx, src, payload.Convert.Options())
	if err != nil {
		return domain.JobResult{}, 0, err
	}

	key, err := s.storeOutput(ctx, payload, out)
	if err != nil {
		return domain.JobResult{}, 0, err
	}

	result := domain.JobResult{
		OutputKey:  key,
		OutputType: out.Type(),
		Bytes:      out.Size(),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Bytes())); err == nil {
		result.Width = cfg.Width
		result.Height = cfg.Height
	}
	return result, src.Size(), nil
}

func (s *Server) loadSource(ctx context.Context, payload queue.ConvertImagePayload) (pipeline.Source, error) {
	switch payload.SourceType {
	case domain.SourceTypeURL:
		blob, err := s.fetcher.URLToBlob(ctx, payload.SourceURL, nil)
		if err != nil {
			return nil, err
		}
		return blob, nil
	case domain.SourceTypeLocalFile:
		f, err := pipeline.OpenFile(payload.ObjectKey)
		if err != nil {
			return nil, pipeline.NewError(pipeline.KindIO, "failed to open local source", err)
		}
		return f, nil
	case domain.SourceTypeS3Presigned:
		if s.objects == nil {
			return nil, errors.New("object storage is not configured")
		}
		blob, err := s.objects.ReadBlob(ctx, payload.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("load source object: %w", err)
		}
		return blob, nil
	default:
		return nil, pipeline.NewError(pipeline.KindType, "unsupported source_type "+payload.SourceType, nil)
	}
}

// storeOutput writes to object storage when it is configured and the source
// didn't come from local disk; everything else lands under the local dir.
func (s *Server) storeOutput(ctx context.Context, payload queue.ConvertImagePayload, out *pipeline.Blob) (string, error) {
	if s.objects != nil && payload.SourceType != domain.SourceTypeLocalFile {
		key := storage.OutputKey(payload.JobID, out.Type())
		if err := s.objects.WriteBlob(ctx, key, out); err != nil {
			return "", fmt.Errorf("store output: %w", err)
		}
		return key, nil
	}

	dir := filepath.Join(s.localDir, payload.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, "converted."+pipeline.Extension(out.Type()))
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) setResult(ctx context.Context, jobID, status string, result domain.JobResult) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.SetResult(ctx, jobID, status, result); err != nil {
		s.logger.Printf("job result update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

// dispatchWebhook never fails the job: the output already exists and a
// retry would convert it again.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertImagePayload, event string, body webhook.JobEvent) {
	if strings.TrimSpace(payload.WebhookURL) == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailuresTotal.Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ConvertImagePayload, result domain.JobResult, sourceBytes int64, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	pixelsProcessed := int64(result.Width) * int64(result.Height)
	bytesSaved := max(sourceBytes-result.Bytes, 0)
	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

// isTransient reports whether running the same job again could succeed.
// Bad input never gets better; I/O and network trouble might.
func isTransient(err error) bool {
	kind, _ := pipeline.KindOf(err)
	switch kind {
	case pipeline.KindType, pipeline.KindRange, pipeline.KindLoad, pipeline.KindSize,
		pipeline.KindSurface, pipeline.KindEncode, pipeline.KindHTTP:
		return false
	default:
		return true
	}
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func kindLabel(kind pipeline.Kind) string {
	if kind == "" {
		return "internal"
	}
	return string(kind)
}
