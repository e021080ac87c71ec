package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file loaded before env overrides.
const ConfigFileEnv = "RESIZEFLOW_CONFIG"

type Config struct {
	API       APIConfig       `yaml:"api"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Convert   ConvertConfig   `yaml:"convert"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type APIConfig struct {
	Addr         string        `yaml:"addr"`
	PresignTTL   time.Duration `yaml:"presign_ttl"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type QueueConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Name          string `yaml:"name"`
	MaxRetry      int    `yaml:"max_retry"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int    `yaml:"concurrency"`
	MaxActiveJobs  int    `yaml:"max_active_jobs"`
	LocalOutputDir string `yaml:"local_output_dir"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DatabaseConfig with an empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type ConvertConfig struct {
	Resampler         string        `yaml:"resampler"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	FetchMaxBodyBytes int64         `yaml:"fetch_max_body_bytes"`
	UserAgent         string        `yaml:"user_agent"`
}

type RateLimitConfig struct {
	Enabled      bool          `yaml:"enabled"`
	RedisAddr    string        `yaml:"redis_addr"`
	Capacity     int           `yaml:"capacity"`
	Window       time.Duration `yaml:"window"`
	UserIDHeader string        `yaml:"user_id_header"`
}

type WebhookConfig struct {
	SigningSecret  string        `yaml:"signing_secret"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type TracingConfig struct {
	Exporter       string  `yaml:"exporter"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	OTLPInsecure   bool    `yaml:"otlp_insecure"`
	SampleRatio    float64 `yaml:"sample_ratio"`
	ServiceVersion string  `yaml:"service_version"`
}

func Defaults() Config {
	return Config{
		API: APIConfig{
			Addr:         ":8080",
			PresignTTL:   15 * time.Minute,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Queue: QueueConfig{
			RedisAddr: "localhost:6379",
			Name:      "default",
			MaxRetry:  5,
		},
		Worker: WorkerConfig{
			Concurrency:    max(2, runtime.NumCPU()),
			MaxActiveJobs:  max(1, runtime.NumCPU()/2),
			LocalOutputDir: "./.resizeflow-output",
			MetricsAddr:    ":9091",
		},
		Storage: StorageConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "resizeflow-jobs",
		},
		Convert: ConvertConfig{
			Resampler:         "bilinear",
			MaxUploadBytes:    32 << 20,
			FetchTimeout:      30 * time.Second,
			FetchMaxBodyBytes: 32 << 20,
			UserAgent:         "resizeflow/1.0",
		},
		RateLimit: RateLimitConfig{
			Capacity:     120,
			Window:       time.Minute,
			UserIDHeader: "X-User-ID",
		},
		Webhook: WebhookConfig{
			Timeout:        10 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRatio: 1,
		},
	}
}

// Load starts from Defaults, overlays the YAML file named by
// RESIZEFLOW_CONFIG when set, then applies environment overrides.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.API.Addr = env("RESIZEFLOW_API_ADDR", cfg.API.Addr)
	cfg.API.PresignTTL = envDuration("RESIZEFLOW_PRESIGN_TTL", cfg.API.PresignTTL)
	cfg.API.ReadTimeout = envDuration("RESIZEFLOW_API_READ_TIMEOUT", cfg.API.ReadTimeout)
	cfg.API.WriteTimeout = envDuration("RESIZEFLOW_API_WRITE_TIMEOUT", cfg.API.WriteTimeout)

	cfg.Queue.RedisAddr = env("REDIS_ADDR", cfg.Queue.RedisAddr)
	cfg.Queue.RedisPassword = env("REDIS_PASSWORD", cfg.Queue.RedisPassword)
	cfg.Queue.RedisDB = envInt("REDIS_DB", cfg.Queue.RedisDB)
	cfg.Queue.Name = env("ASYNC_QUEUE", cfg.Queue.Name)
	cfg.Queue.MaxRetry = envInt("ASYNC_MAX_RETRY", cfg.Queue.MaxRetry)

	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.MaxActiveJobs = envInt("WORKER_MAX_ACTIVE_JOBS", cfg.Worker.MaxActiveJobs)
	cfg.Worker.LocalOutputDir = env("WORKER_LOCAL_OUTPUT_DIR", cfg.Worker.LocalOutputDir)
	cfg.Worker.MetricsAddr = env("WORKER_METRICS_ADDR", cfg.Worker.MetricsAddr)

	cfg.Storage.Endpoint = env("MINIO_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.AccessKey = env("MINIO_ACCESS_KEY", cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = env("MINIO_SECRET_KEY", cfg.Storage.SecretKey)
	cfg.Storage.Bucket = env("MINIO_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.UseSSL = envBool("MINIO_USE_SSL", cfg.Storage.UseSSL)

	cfg.Database.DSN = env("POSTGRES_DSN", cfg.Database.DSN)

	cfg.Convert.Resampler = env("RESIZEFLOW_RESAMPLER", cfg.Convert.Resampler)
	cfg.Convert.MaxUploadBytes = envInt64("RESIZEFLOW_MAX_UPLOAD_BYTES", cfg.Convert.MaxUploadBytes)
	cfg.Convert.FetchTimeout = envDuration("RESIZEFLOW_FETCH_TIMEOUT", cfg.Convert.FetchTimeout)
	cfg.Convert.FetchMaxBodyBytes = envInt64("RESIZEFLOW_FETCH_MAX_BODY_BYTES", cfg.Convert.FetchMaxBodyBytes)
	cfg.Convert.UserAgent = env("RESIZEFLOW_USER_AGENT", cfg.Convert.UserAgent)

	cfg.RateLimit.Enabled = envBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RedisAddr = env("RATE_LIMIT_REDIS_ADDR", cfg.RateLimit.RedisAddr)
	cfg.RateLimit.Capacity = envInt("RATE_LIMIT_CAPACITY", cfg.RateLimit.Capacity)
	cfg.RateLimit.Window = envDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)
	cfg.RateLimit.UserIDHeader = env("RATE_LIMIT_USER_ID_HEADER", cfg.RateLimit.UserIDHeader)
	if cfg.RateLimit.RedisAddr == "" {
		cfg.RateLimit.RedisAddr = cfg.Queue.RedisAddr
	}

	cfg.Webhook.SigningSecret = env("WEBHOOK_SIGNING_SECRET", cfg.Webhook.SigningSecret)
	cfg.Webhook.Timeout = envDuration("WEBHOOK_TIMEOUT", cfg.Webhook.Timeout)
	cfg.Webhook.MaxAttempts = envInt("WEBHOOK_MAX_ATTEMPTS", cfg.Webhook.MaxAttempts)
	cfg.Webhook.InitialBackoff = envDuration("WEBHOOK_INITIAL_BACKOFF", cfg.Webhook.InitialBackoff)
	cfg.Webhook.MaxBackoff = envDuration("WEBHOOK_MAX_BACKOFF", cfg.Webhook.MaxBackoff)

	cfg.Tracing.Exporter = env("OTEL_TRACES_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.OTLPEndpoint = env("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.OTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Tracing.OTLPInsecure)
	cfg.Tracing.SampleRatio = envFloat("OTEL_TRACES_SAMPLER_ARG", cfg.Tracing.SampleRatio)
	cfg.Tracing.ServiceVersion = env("RESIZEFLOW_VERSION", cfg.Tracing.ServiceVersion)
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
