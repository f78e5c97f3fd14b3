package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "drawbridge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
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

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
	setString(&cfg.Server.Port, "DRAWBRIDGE_PORT")
	setString(&cfg.Server.CORSOrigin, "DRAWBRIDGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DRAWBRIDGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DRAWBRIDGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DRAWBRIDGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DRAWBRIDGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "DRAWBRIDGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt64(&cfg.Cache.L1MaxSizeMB, "DRAWBRIDGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "DRAWBRIDGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L1Expire, "DRAWBRIDGE_CACHE_L1_EXPIRE")
	setString(&cfg.Logging.Level, "DRAWBRIDGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DRAWBRIDGE_LOG_SERVICE")
	setBool(&cfg.Telemetry.Enabled, "DRAWBRIDGE_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "DRAWBRIDGE_OTEL_ENDPOINT")
	setInt(&cfg.Breaker.Threshold, "DRAWBRIDGE_BREAKER_THRESHOLD")
	setDuration(&cfg.Breaker.BaseTimeout, "DRAWBRIDGE_BREAKER_BASE_TIMEOUT")
	setDuration(&cfg.Breaker.MaxTimeout, "DRAWBRIDGE_BREAKER_MAX_TIMEOUT")
	setInt(&cfg.Breaker.HalfOpenMaxTrials, "DRAWBRIDGE_BREAKER_HALF_OPEN_TRIALS")
	setDuration(&cfg.Idempotency.TTL, "DRAWBRIDGE_IDEMPOTENCY_TTL")
	setDuration(&cfg.Authorization.DefaultTimeout, "DRAWBRIDGE_AUTHZ_TIMEOUT")
	setDuration(&cfg.Authorization.ReminderDelay, "DRAWBRIDGE_AUTHZ_REMINDER_DELAY")
	setDuration(&cfg.Authorization.SweepInterval, "DRAWBRIDGE_AUTHZ_SWEEP_INTERVAL")
	setInt(&cfg.Retry.MaxAttempts, "DRAWBRIDGE_RETRY_MAX_ATTEMPTS")
	setFloat64(&cfg.Retry.BackoffBase, "DRAWBRIDGE_RETRY_BACKOFF_BASE")
	setDuration(&cfg.Retry.RateLimitWait, "DRAWBRIDGE_RETRY_RATE_LIMIT_WAIT")
	setDuration(&cfg.Retry.CircuitWaitCap, "DRAWBRIDGE_RETRY_CIRCUIT_WAIT_CAP")
	setFloat64(&cfg.Policy.MaxDiscountPercent, "DRAWBRIDGE_POLICY_MAX_DISCOUNT_PCT")
	setFloat64(&cfg.Policy.DailyBudgetUSD, "DRAWBRIDGE_POLICY_DAILY_BUDGET_USD")
	setInt(&cfg.Policy.MassBlastAudience, "DRAWBRIDGE_POLICY_MASS_BLAST_AUDIENCE")
	setInt(&cfg.Policy.TrainingWheelsDays, "DRAWBRIDGE_POLICY_TRAINING_WHEELS_DAYS")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.Threshold < 1 {
		return errors.New("breaker.threshold must be >= 1")
	}
	if cfg.Breaker.HalfOpenMaxTrials < 1 {
		return errors.New("breaker.half_open_max_trials must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.BackoffBase <= 1 {
		return errors.New("retry.backoff_base must be > 1")
	}
	if cfg.Policy.MaxDiscountPercent <= 0 || cfg.Policy.MaxDiscountPercent > 100 {
		return errors.New("policy.max_discount_percent must be in (0, 100]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
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
