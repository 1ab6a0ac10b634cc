package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "dashboard-worker.yaml"

// functionName matches the unqualified Postgres function names accepted as refresh targets.
var functionName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("DASHBOARD_WORKER_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
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
	setString(&cfg.Server.Port, "PORT")
	setStrings(&cfg.Server.CORSOrigins, "DASHBOARD_WORKER_CORS_ORIGINS")
	setDuration(&cfg.Server.RequestTimeout, "DASHBOARD_WORKER_REQUEST_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DASHBOARD_WORKER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DASHBOARD_WORKER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DASHBOARD_WORKER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DASHBOARD_WORKER_PG_MAX_CONN_IDLE_TIME")
	setBool(&cfg.Postgres.Impersonate, "DASHBOARD_WORKER_PG_IMPERSONATE")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.KVBucket, "DASHBOARD_WORKER_NATS_KV_BUCKET")
	setDuration(&cfg.NATS.KVTTL, "DASHBOARD_WORKER_NATS_KV_TTL")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Service, "DASHBOARD_WORKER_LOG_SERVICE")

	setBool(&cfg.Auth.Enabled, "DASHBOARD_WORKER_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "SUPABASE_JWT_SECRET")
	setDuration(&cfg.Auth.ClaimsTTL, "DASHBOARD_WORKER_CLAIMS_TTL")

	// Cache
	setInt(&cfg.Cache.MaxEntries, "CACHE_MAX_ENTRIES")
	setInt64(&cfg.Cache.MaxBytes, "CACHE_MAX_BYTES")
	setDuration(&cfg.Cache.SweepInterval, "CACHE_SWEEP_INTERVAL")
	setFloat64(&cfg.Cache.TargetRatio, "CACHE_TARGET_RATIO")
	setFloat64(&cfg.Cache.SweepFraction, "CACHE_SWEEP_FRACTION")
	setDuration(&cfg.Cache.DashboardTTL, "CACHE_DASHBOARD_TTL")
	setDuration(&cfg.Cache.ListTTL, "CACHE_LIST_TTL")

	// Refresh
	setBool(&cfg.Refresh.Enabled, "REFRESH_ENABLED")
	setDuration(&cfg.Refresh.WarmTimeout, "REFRESH_WARM_TIMEOUT")
	if v := os.Getenv("REFRESH_CRON"); v != "" && len(cfg.Refresh.Schedules) > 0 {
		cfg.Refresh.Schedules[0].Cron = v
	}

	setInt(&cfg.Breaker.MaxFailures, "DASHBOARD_WORKER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "DASHBOARD_WORKER_BREAKER_TIMEOUT")
	setInt(&cfg.Rate.Requests, "DASHBOARD_WORKER_RATE_REQUESTS")
	setDuration(&cfg.Rate.Window, "DASHBOARD_WORKER_RATE_WINDOW")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
}

// validate checks that required fields are set and bounds are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	if cfg.Cache.MaxEntries < 1 {
		return errors.New("cache.max_entries must be >= 1")
	}
	if cfg.Cache.SweepInterval <= 0 {
		return errors.New("cache.sweep_interval must be > 0")
	}
	if cfg.Cache.TargetRatio <= 0 || cfg.Cache.TargetRatio > 1 {
		return errors.New("cache.target_ratio must be in (0, 1]")
	}
	if cfg.Cache.SweepFraction <= 0 || cfg.Cache.SweepFraction > 1 {
		return errors.New("cache.sweep_fraction must be in (0, 1]")
	}
	if cfg.NATS.URL != "" {
		if shortest := min(cfg.Cache.DashboardTTL, cfg.Cache.ListTTL); cfg.NATS.KVTTL <= 0 || cfg.NATS.KVTTL > shortest {
			return fmt.Errorf("nats.kv_ttl %s must be > 0 and no longer than the shortest cache TTL %s", cfg.NATS.KVTTL, shortest)
		}
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Requests < 1 {
		return errors.New("rate.requests must be >= 1")
	}
	for i, s := range cfg.Refresh.Schedules {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("refresh.schedules[%d].cron %q: %w", i, s.Cron, err)
		}
		for _, t := range s.Targets {
			if t.Name == "" {
				return fmt.Errorf("refresh.schedules[%d]: target name is required", i)
			}
			if !functionName.MatchString(t.Function) {
				return fmt.Errorf("refresh target %s: invalid function name %q", t.Name, t.Function)
			}
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
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
