package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	Log       LogConfig
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	OpenAI    OpenAIConfig
	Pipeline  PipelineConfig
	Telemetry TelemetryConfig
}

type LogConfig struct {
	Env   string
	Level string
}

type APIConfig struct {
	Addr            string
	MaxUploadBytes  int64
	AccountHeader   string
	Runner          string
	RateLimitBurst  int
	RateLimitRefill time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency     int
	MaxActiveJobs   int
	QueueDepth      int
	ShutdownTimeout time.Duration
	MetricsAddr     string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	// DSN selects the Postgres job store. Empty keeps jobs in memory.
	DSN string
}

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	VisionPrimary   string
	VisionSecondary string
	LegacyEditModel string
	EditModel       string
	RequestsPerMin  int
	Timeout         time.Duration
}

type PipelineConfig struct {
	CanonicalSize    int
	FallbackSize     int
	PNGThreshold     int
	SafeRadius       float64
	TempDir          string
	ClassifierMaxDim int
}

type TelemetryConfig struct {
	ServiceName string
	Exporter    string
	Endpoint    string
	SampleRatio float64
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	cfg := Config{
		Log: LogConfig{
			Env:   env("APP_ENV", "development"),
			Level: env("LOG_LEVEL", "info"),
		},
		API: APIConfig{
			Addr:            env("PAWTRAIT_API_ADDR", ":8080"),
			MaxUploadBytes:  int64(envInt("PAWTRAIT_MAX_UPLOAD_BYTES", 16<<20)),
			AccountHeader:   env("PAWTRAIT_ACCOUNT_HEADER", "X-Account-ID"),
			Runner:          env("PAWTRAIT_RUNNER", "asynq"),
			RateLimitBurst:  envInt("PAWTRAIT_UPLOAD_BURST", 10),
			RateLimitRefill: envDuration("PAWTRAIT_UPLOAD_REFILL", 30*time.Second),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "transformations"),
		},
		Worker: WorkerConfig{
			Concurrency:     envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:   envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			QueueDepth:      envInt("WORKER_QUEUE_DEPTH", 64),
			ShutdownTimeout: envDuration("WORKER_SHUTDOWN_TIMEOUT", 5*time.Minute),
			MetricsAddr:     env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "pawtrait-images"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:          env("OPENAI_API_KEY", ""),
			BaseURL:         env("OPENAI_BASE_URL", ""),
			VisionPrimary:   env("OPENAI_VISION_MODEL", "gpt-4o-mini"),
			VisionSecondary: env("OPENAI_VISION_FALLBACK_MODEL", "gpt-4o"),
			LegacyEditModel: env("OPENAI_LEGACY_EDIT_MODEL", "dall-e-2"),
			EditModel:       env("OPENAI_EDIT_MODEL", "gpt-image-1"),
			RequestsPerMin:  envInt("OPENAI_REQUESTS_PER_MINUTE", 30),
			Timeout:         envDuration("OPENAI_TIMEOUT", 3*time.Minute),
		},
		Pipeline: PipelineConfig{
			CanonicalSize:    envInt("PIPELINE_CANONICAL_SIZE", 1024),
			FallbackSize:     envInt("PIPELINE_FALLBACK_SIZE", 512),
			PNGThreshold:     envInt("PIPELINE_PNG_THRESHOLD_BYTES", 7<<19),
			SafeRadius:       envFloat("PIPELINE_SAFE_RADIUS", 0.60),
			TempDir:          env("PIPELINE_TEMP_DIR", os.TempDir()),
			ClassifierMaxDim: envInt("PIPELINE_CLASSIFIER_MAX_DIM", 2048),
		},
		Telemetry: TelemetryConfig{
			ServiceName: env("OTEL_SERVICE_NAME", "pawtrait"),
			Exporter:    env("OTEL_TRACES_EXPORTER", "none"),
			Endpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SampleRatio: envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
	}

	if cfg.Pipeline.FallbackSize >= cfg.Pipeline.CanonicalSize {
		return Config{}, fmt.Errorf("pipeline fallback size %d must be below canonical size %d", cfg.Pipeline.FallbackSize, cfg.Pipeline.CanonicalSize)
	}
	if cfg.API.Runner != "asynq" && cfg.API.Runner != "local" {
		return Config{}, fmt.Errorf("unknown runner %q", cfg.API.Runner)
	}
	return cfg, nil
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
