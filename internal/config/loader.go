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
const DefaultConfigFile = "contextforge.yaml"

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
	setString(&cfg.Server.Port, "CONTEXTFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "CONTEXTFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONTEXTFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONTEXTFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONTEXTFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONTEXTFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONTEXTFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Model.BaseURL, "CONTEXTFORGE_MODEL_BASE_URL")
	setString(&cfg.Model.APIKey, "CONTEXTFORGE_MODEL_API_KEY")
	setString(&cfg.Model.DefaultModel, "CONTEXTFORGE_MODEL_DEFAULT")
	setString(&cfg.Logging.Level, "CONTEXTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONTEXTFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONTEXTFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CONTEXTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONTEXTFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "CONTEXTFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CONTEXTFORGE_RATE_BURST")
	setInt(&cfg.Engine.MaxRetries, "CONTEXTFORGE_MAX_RETRIES")
	setDuration(&cfg.Engine.RetryBackoff, "CONTEXTFORGE_RETRY_BACKOFF")
	setInt(&cfg.Engine.MaxToolDepth, "CONTEXTFORGE_MAX_TOOL_DEPTH")
	setInt(&cfg.Engine.MaxConcurrentStreams, "CONTEXTFORGE_MAX_CONCURRENT_STREAMS")
	setDuration(&cfg.Engine.ToolCycleBudget, "CONTEXTFORGE_TOOL_CYCLE_BUDGET")
	setDuration(&cfg.Engine.ApprovalTimeout, "CONTEXTFORGE_APPROVAL_TIMEOUT")
	setDuration(&cfg.Engine.HeartbeatInterval, "CONTEXTFORGE_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Engine.CatchupPollInterval, "CONTEXTFORGE_CATCHUP_POLL_INTERVAL")
	setString(&cfg.Engine.ApprovalPolicy, "CONTEXTFORGE_APPROVAL_POLICY")
	setInt64(&cfg.Engine.MaxFileRefBytes, "CONTEXTFORGE_MAX_FILEREF_BYTES")
	setInt64(&cfg.Cache.L1MaxSizeMB, "CONTEXTFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CONTEXTFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "CONTEXTFORGE_CACHE_L2_TTL")
	setBool(&cfg.Telemetry.Enabled, "CONTEXTFORGE_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "CONTEXTFORGE_OTEL_ENDPOINT")
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
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Engine.MaxToolDepth < 1 {
		return errors.New("engine.max_tool_depth must be >= 1")
	}
	if cfg.Engine.MaxRetries < 0 {
		return errors.New("engine.max_retries must be >= 0")
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
