package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/resizeflow/internal/api"
	"github.com/dunamismax/resizeflow/internal/config"
	"github.com/dunamismax/resizeflow/internal/fetch"
	"github.com/dunamismax/resizeflow/internal/pipeline"
	"github.com/dunamismax/resizeflow/internal/queue"
	"github.com/dunamismax/resizeflow/internal/ratelimit"
	"github.com/dunamismax/resizeflow/internal/storage"
	"github.com/dunamismax/resizeflow/internal/store"
	"github.com/dunamismax/resizeflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
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
		ServiceName:    "resizeflow-api",
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
	fetcher := fetch.NewClient(fetch.Config{
		Timeout:      cfg.Convert.FetchTimeout,
		MaxBodyBytes: cfg.Convert.FetchMaxBodyBytes,
		UserAgent:    cfg.Convert.UserAgent,
	}, converter)

	deps := api.Deps{
		Converter: converter,
		Fetcher:   fetcher,
	}

	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store: %v", err)
		}
		defer pg.Close()
		deps.JobStore = pg
		logger.Printf("job store=postgres")
	} else {
		deps.JobStore = store.NewMemoryJobStore()
		logger.Printf("job store=memory")
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()
	deps.Queue = queueClient

	if objects := connectStorage(ctx, cfg.Storage, cfg.Convert.MaxUploadBytes, logger); objects != nil {
		deps.Storage = objects
	}

	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer rdb.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(rdb, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter: %v", err)
		}
		deps.RateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	app := api.NewServer(logger, deps, api.Config{
		PresignTTL:            cfg.API.PresignTTL,
		MaxUploadBytes:        cfg.Convert.MaxUploadBytes,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// connectStorage returns nil when the bucket can't be reached so the
// synchronous endpoints keep working without MinIO.
func connectStorage(ctx context.Context, cfg config.StorageConfig, maxBytes int64, logger *log.Logger) *storage.Client {
	client, err := storage.NewClient(storage.Config{
		Endpoint:       cfg.Endpoint,
		Access:         cfg.AccessKey,
		Secret:         cfg.SecretKey,
		Bucket:         cfg.Bucket,
		UseSSL:         cfg.UseSSL,
		MaxObjectBytes: maxBytes,
	})
	if err != nil {
		logger.Printf("object storage disabled err=%v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		logger.Printf("object storage disabled bucket=%s err=%v", cfg.Bucket, err)
		return nil
	}
	return client
}
