package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	AWS          AWSConfig
	Daily        DailyConfig
	CloudConvert CloudConvertConfig
	OpenAI       OpenAIConfig
	Webhook      WebhookConfig
	Schema       SchemaConfig
	Worker       WorkerConfig
	RateLimit    RateLimitConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma-separated; "*" allows any origin
	RunWorker          bool   // run the queue worker inside the API process
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds bearer token validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the owned recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// DailyConfig holds the video vendor API settings.
type DailyConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
	RoomTTL       time.Duration
	MaxMembers    int
}

// CloudConvertConfig holds the audio conversion API settings.
type CloudConvertConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
}

// OpenAIConfig holds speech-to-text and summary model settings.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	SummaryModel string
}

// WebhookConfig holds the shared secret for internal automation calls.
type WebhookConfig struct {
	Secret string
}

// SchemaConfig selects how optional room/invitation columns are handled.
// Mode is "detect" (inspect information_schema at startup), "full" or "base".
type SchemaConfig struct {
	Mode string
}

// WorkerConfig holds background job and maintenance settings.
type WorkerConfig struct {
	ClaimTTL               time.Duration
	PipelineTimeout        time.Duration
	InvitationExpirySpec   string
	StaleClaimSpec         string
	RetentionSpec          string
	RecordingRetentionDays int
}

// RateLimitConfig bounds per-IP request rates on vendor-spending endpoints.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 330),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001")),
			RunWorker:          getEnvBool("RUN_WORKER", true),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "video_calls"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getEnvBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "video-call-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
		Daily: DailyConfig{
			APIKey:        getEnv("DAILY_API_KEY", ""),
			BaseURL:       getEnv("DAILY_API_URL", "https://api.daily.co/v1"),
			WebhookSecret: getEnv("DAILY_WEBHOOK_SECRET", ""),
			RoomTTL:       getEnvDuration("DAILY_ROOM_TTL", 3*time.Hour),
			MaxMembers:    getEnvInt("DAILY_MAX_PARTICIPANTS", 10),
		},
		CloudConvert: CloudConvertConfig{
			APIKey:       getEnv("CLOUDCONVERT_API_KEY", ""),
			BaseURL:      getEnv("CLOUDCONVERT_API_URL", "https://api.cloudconvert.com/v2"),
			PollInterval: getEnvDuration("CLOUDCONVERT_POLL_INTERVAL", 2*time.Second),
			MaxPolls:     getEnvInt("CLOUDCONVERT_MAX_POLLS", 30),
		},
		OpenAI: OpenAIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", ""),
			SummaryModel: getEnv("OPENAI_SUMMARY_MODEL", "gpt-4o-mini"),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Schema: SchemaConfig{
			Mode: strings.ToLower(getEnv("SCHEMA_MODE", "detect")),
		},
		Worker: WorkerConfig{
			ClaimTTL:               getEnvDuration("TRANSCRIPT_CLAIM_TTL", 10*time.Minute),
			PipelineTimeout:        getEnvDuration("TRANSCRIPT_PIPELINE_TIMEOUT", 5*time.Minute),
			InvitationExpirySpec:   getEnv("CRON_INVITATION_EXPIRY", "@hourly"),
			StaleClaimSpec:         getEnv("CRON_STALE_CLAIMS", "@every 10m"),
			RetentionSpec:          getEnv("CRON_RECORDING_RETENTION", "0 2 * * *"),
			RecordingRetentionDays: getEnvInt("RECORDING_RETENTION_DAYS", 90),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Burst:    getEnvInt("RATE_LIMIT_BURST", 10),
		},
	}

	switch cfg.Schema.Mode {
	case "detect", "full", "base":
	default:
		return nil, fmt.Errorf("invalid SCHEMA_MODE %q (want detect, full or base)", cfg.Schema.Mode)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
