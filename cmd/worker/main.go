package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/resizeflow/internal/config"
	"github.com/dunamismax/resizeflow/internal/fetch"
	"github.com/dunamismax/resizeflow/internal/pipeline"
	"github.com/dunamismax/resizeflow/internal/storage"
	"github.com/dunamismax/resizeflow/internal/store"
	"github.com/dunamismax/resizeflow/internal/telemetry"
	"github.com/dunamismax/resizeflow/internal/webhook"
	"github.com/dunamismax/resizeflow/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("start image runtime: %v", err)
	}
	defer pipeline.Shutdown()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "resizeflow-worker",
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	resampler, err := pipeline.ParseResampler(cfg.Convert.Resampler)
	if err != nil {
		logger.Fatalf("resampler: %v", err)
	}
	converter := pipeline.NewConverter(resampler)

	deps := worker.Deps{
		Converter: converter,
		Fetcher: fetch.NewClient(fetch.Config{
			Timeout:      cfg.Convert.FetchTimeout,
			MaxBodyBytes: cfg.Convert.FetchMaxBodyBytes,
			UserAgent:    cfg.Convert.UserAgent,
		}, converter),
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
	}

	objects, err := storage.NewClient(storage.Config{
		Endpoint:       cfg.Storage.Endpoint,
		Access:         cfg.Storage.AccessKey,
		Secret:         cfg.Storage.SecretKey,
		Bucket:         cfg.Storage.Bucket,
		UseSSL:         cfg.Storage.UseSSL,
		MaxObjectBytes: cfg.Convert.MaxUploadBytes,
	})
	if err != nil {
		logger.Fatalf("object storage: %v", err)
	}
	bucketCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objects.EnsureBucket(bucketCtx); err != nil {
		logger.Printf("object storage disabled bucket=%s err=%v", cfg.Storage.Bucket, err)
	} else {
		deps.Storage = objects
	}
	cancel()

	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store: %v", err)
		}
		defer pg.Close()
		deps.JobStore = pg
		deps.UsageStore = pg
	} else {
		logger.Printf("no POSTGRES_DSN set, job results and usage are not persisted")
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, deps)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
		defer metricsServer.Close()
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	// Run blocks until SIGINT or SIGTERM.
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
