package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application-level settings.
type Config struct {
	// Server
	ServerAddr string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PostgreSQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// GPU
	GPUDevices  string // comma-separated device list "id:memoryGiB", e.g. "0:16,1:16"
	MinMemoryGB int    // minimum device memory to pass validation

	// Scheduler
	WorkerCount    int           // 0 = one worker per validated device
	PollInterval   time.Duration // queue poll backoff when idle
	AcquireBackoff time.Duration // delay after a failed device acquisition
	MaxAttempts    int           // generation attempts per task before terminal failure
	RetryDelay     time.Duration // fixed backoff between attempts
	StaleTaskAge   time.Duration // force-release devices idle longer than this mid-task
	SweepInterval  time.Duration // stale sweep + stats flush period
	StatsTTL       time.Duration // lifetime of the cached stats snapshot in Redis

	// Backend
	BackendURL      string        // inference sidecar base URL
	BackendTimeout  time.Duration // upper bound for one inference call
	StylePresetPath string        // optional YAML file overriding built-in style presets

	// MinIO artifact storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Admin Authentication
	AdminToken string // Bearer token for admin API access
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ServerAddr:      envOr("SERVER_ADDR", ":8080"),
		RedisAddr:       envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   envOr("REDIS_PASSWORD", ""),
		RedisDB:         envIntOr("REDIS_DB", 0),
		DBHost:          envOr("DB_HOST", "localhost"),
		DBPort:          envOr("DB_PORT", "5432"),
		DBUser:          envOr("DB_USER", "postgres"),
		DBPassword:      envOr("DB_PASSWORD", "postgres"),
		DBName:          envOr("DB_NAME", "dreamforge"),
		DBSSLMode:       envOr("DB_SSLMODE", "disable"),
		GPUDevices:      envOr("GPU_DEVICES", "0:16"),
		MinMemoryGB:     envIntOr("GPU_MIN_MEMORY_GB", 8),
		WorkerCount:     envIntOr("WORKER_COUNT", 0),
		PollInterval:    envDurationOr("POLL_INTERVAL", 2*time.Second),
		AcquireBackoff:  envDurationOr("ACQUIRE_BACKOFF", 5*time.Second),
		MaxAttempts:     envIntOr("MAX_ATTEMPTS", 3),
		RetryDelay:      envDurationOr("RETRY_DELAY", 60*time.Second),
		StaleTaskAge:    envDurationOr("STALE_TASK_AGE", 10*time.Minute),
		SweepInterval:   envDurationOr("SWEEP_INTERVAL", 30*time.Second),
		StatsTTL:        envDurationOr("STATS_TTL", 5*time.Minute),
		BackendURL:      envOr("BACKEND_URL", "http://localhost:7860"),
		BackendTimeout:  envDurationOr("BACKEND_TIMEOUT", 2*time.Minute),
		StylePresetPath: envOr("STYLE_PRESET_PATH", ""),
		MinioEndpoint:   envOr("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:  envOr("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:  envOr("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:     envOr("MINIO_BUCKET", "ai-images"),
		MinioUseSSL:     envBoolOr("MINIO_USE_SSL", false),
		AdminToken:      envOr("ADMIN_TOKEN", ""),
	}
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
