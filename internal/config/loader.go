package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "fitcoach.yaml"

// DefaultEnvFile is loaded into the process environment when present.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < .env < YAML < ENV.
// Both files are optional.
func Load() (*Config, error) {
	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv populates unset environment variables from a dotenv file.
// Variables already present in the environment win.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FITCOACH_PORT")
	setString(&cfg.Server.CORSOrigin, "FITCOACH_CORS_ORIGIN")
	setFloat64(&cfg.Server.MessageRPS, "FITCOACH_MESSAGE_RPS")
	setInt(&cfg.Server.MessageBurst, "FITCOACH_MESSAGE_BURST")

	setString(&cfg.Store.Driver, "FITCOACH_STORE_DRIVER")
	setString(&cfg.Store.SQLitePath, "FITCOACH_SQLITE_PATH")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FITCOACH_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FITCOACH_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FITCOACH_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FITCOACH_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FITCOACH_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.LeaseKey, "FITCOACH_SWEEP_LEASE_KEY")
	setDuration(&cfg.Redis.LeaseTTL, "FITCOACH_SWEEP_LEASE_TTL")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "FITCOACH_LLM_MODEL")
	setFloat64(&cfg.LiteLLM.Temperature, "FITCOACH_LLM_TEMPERATURE")
	setInt(&cfg.LiteLLM.MaxTokens, "FITCOACH_LLM_MAX_TOKENS")
	setDuration(&cfg.LiteLLM.Timeout, "FITCOACH_LLM_TIMEOUT")

	setString(&cfg.Logging.Level, "FITCOACH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FITCOACH_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FITCOACH_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "FITCOACH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FITCOACH_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "FITCOACH_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "FITCOACH_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "FITCOACH_CACHE_L2_TTL")
	setDuration(&cfg.Cache.StatsTTL, "FITCOACH_CACHE_STATS_TTL")

	// Coach
	setInt(&cfg.Coach.HistoryTurns, "FITCOACH_HISTORY_TURNS")
	setInt64(&cfg.Coach.MaxConcurrentGenerations, "FITCOACH_MAX_CONCURRENT_GENERATIONS")
	setFloat64(&cfg.Coach.ConfidenceThreshold, "FITCOACH_CONFIDENCE_THRESHOLD")

	// Approval
	setDuration(&cfg.Approval.ReviewWindow, "FITCOACH_REVIEW_WINDOW")
	setDuration(&cfg.Approval.SweepInterval, "FITCOACH_SWEEP_INTERVAL")
	setInt(&cfg.Approval.SweepWorkers, "FITCOACH_SWEEP_WORKERS")
	setString(&cfg.Approval.PolicyFile, "FITCOACH_POLICY_FILE")
	setStringList(&cfg.Approval.NotifyEvents, "FITCOACH_NOTIFY_EVENTS")

	// Auth
	setBool(&cfg.Auth.Enabled, "FITCOACH_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "FITCOACH_JWT_SECRET")
	setString(&cfg.Auth.Issuer, "FITCOACH_JWT_ISSUER")
	setDuration(&cfg.Auth.TokenTTL, "FITCOACH_JWT_TTL")

	// Notify
	setString(&cfg.Notify.SlackWebhookURL, "FITCOACH_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "FITCOACH_DISCORD_WEBHOOK_URL")
	setString(&cfg.Notify.SMTPHost, "FITCOACH_SMTP_HOST")
	setString(&cfg.Notify.SMTPPort, "FITCOACH_SMTP_PORT")
	setString(&cfg.Notify.SMTPUsername, "FITCOACH_SMTP_USERNAME")
	setString(&cfg.Notify.SMTPPassword, "FITCOACH_SMTP_PASSWORD")
	setString(&cfg.Notify.EmailFrom, "FITCOACH_EMAIL_FROM")
	setString(&cfg.Notify.EmailDomain, "FITCOACH_EMAIL_DOMAIN")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "FITCOACH_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "FITCOACH_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "FITCOACH_OTEL_SAMPLE_RATE")

	// MCP
	setBool(&cfg.MCP.Enabled, "FITCOACH_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "FITCOACH_MCP_ADDR")
	setString(&cfg.MCP.APIKeyHash, "FITCOACH_MCP_API_KEY_HASH")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.MessageRPS < 0 || (cfg.Server.MessageRPS > 0 && cfg.Server.MessageBurst < 1) {
		return errors.New("server.message_rps must be >= 0 with message_burst >= 1")
	}
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required")
		}
	default:
		return fmt.Errorf("store.driver must be postgres or sqlite, got %q", cfg.Store.Driver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Coach.HistoryTurns < 1 {
		return errors.New("coach.history_turns must be >= 1")
	}
	if cfg.Coach.MaxConcurrentGenerations < 1 {
		return errors.New("coach.max_concurrent_generations must be >= 1")
	}
	if cfg.Coach.ConfidenceThreshold <= 0 || cfg.Coach.ConfidenceThreshold > 1 {
		return errors.New("coach.confidence_threshold must be in (0, 1]")
	}
	if cfg.Approval.ReviewWindow <= 0 {
		return errors.New("approval.review_window must be > 0")
	}
	if cfg.Approval.SweepInterval <= 0 {
		return errors.New("approval.sweep_interval must be > 0")
	}
	if cfg.Approval.SweepWorkers < 1 {
		return errors.New("approval.sweep_workers must be >= 1")
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStringList splits a comma-separated value, dropping blanks.
func setStringList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
