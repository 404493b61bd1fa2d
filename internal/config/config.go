/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Slot removal policies.
const (
	RemovalReject  = "reject"
	RemovalCascade = "cascade"
)

// Config covers process level configuration read from environment variables,
// optionally layered over a YAML file named by TIMEGATE_CONFIG_FILE.
type Config struct {
	Environment   string
	LogLevel      string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string

	// Timezone is the zone administrators enter publish dates and times in.
	Timezone string
	Location *time.Location

	// Publishing
	PublishInterval   time.Duration
	PublishRetryDelay time.Duration
	ExcerptLength     int

	// Booking
	PendingBookingTTL time.Duration // 0 disables expiry
	ExpirySweepSpec   string        // cron spec for the pending sweeper
	SlotRemovalPolicy string
	PaymentTokenTTL   time.Duration
	CheckoutURL       string // external checkout page; booking id is appended

	// PaymentReturnSecret is shared only with the payment collaborator,
	// which signs paid signals with it. Empty disables payment returns.
	PaymentReturnSecret string

	// Redis cache
	CacheEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Event fan-out. NATS wins when both are set.
	NATSURL           string
	NATSSubjectPrefix string
	EventsViaRedis    bool

	// S3 content mirror
	S3Bucket          string
	S3Region          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool // Required for MinIO
	S3Prefix          string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	ConfigFile        string
	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	path := getEnvAny([]string{"TIMEGATE_CONFIG_FILE"}, "")
	f, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:   getEnvAny([]string{"TIMEGATE_ENV"}, f.str("env", "development")),
		LogLevel:      getEnvAny([]string{"TIMEGATE_LOG_LEVEL"}, f.str("log_level", "")),
		HTTPBind:      getEnvAny([]string{"TIMEGATE_HTTP_BIND"}, f.str("http_bind", "0.0.0.0")),
		HTTPPort:      getEnvIntAny([]string{"TIMEGATE_HTTP_PORT", "PORT"}, f.int("http_port", 8080)),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"TIMEGATE_DB_BACKEND"}, f.str("db_backend", string(DatabasePostgres)))),
		DBDSN:         getEnvAny([]string{"TIMEGATE_DB_DSN", "DATABASE_URL"}, f.str("db_dsn", "")),
		JWTSigningKey: getEnvAny([]string{"TIMEGATE_JWT_SIGNING_KEY"}, f.str("jwt_signing_key", "")),
		Timezone:      getEnvAny([]string{"TIMEGATE_TIMEZONE"}, f.str("timezone", "UTC")),

		PublishInterval:   getEnvDurationAny([]string{"TIMEGATE_PUBLISH_INTERVAL"}, f.duration("publish_interval", time.Minute)),
		PublishRetryDelay: getEnvDurationAny([]string{"TIMEGATE_PUBLISH_RETRY_DELAY"}, f.duration("publish_retry_delay", time.Minute)),
		ExcerptLength:     getEnvIntAny([]string{"TIMEGATE_EXCERPT_LENGTH"}, f.int("excerpt_length", 150)),

		PendingBookingTTL: getEnvDurationAny([]string{"TIMEGATE_PENDING_BOOKING_TTL"}, f.duration("pending_booking_ttl", 30*time.Minute)),
		ExpirySweepSpec:   getEnvAny([]string{"TIMEGATE_EXPIRY_SWEEP"}, f.str("expiry_sweep", "@every 1m")),
		SlotRemovalPolicy: strings.ToLower(getEnvAny([]string{"TIMEGATE_SLOT_REMOVAL_POLICY"}, f.str("slot_removal_policy", RemovalReject))),
		PaymentTokenTTL:   getEnvDurationAny([]string{"TIMEGATE_PAYMENT_TOKEN_TTL"}, f.duration("payment_token_ttl", 2*time.Hour)),
		CheckoutURL:       getEnvAny([]string{"TIMEGATE_CHECKOUT_URL"}, f.str("checkout_url", "")),

		PaymentReturnSecret: getEnvAny([]string{"TIMEGATE_PAYMENT_RETURN_SECRET"}, f.str("payment_return_secret", "")),

		CacheEnabled:  getEnvBoolAny([]string{"TIMEGATE_CACHE_ENABLED"}, f.bool("cache_enabled", false)),
		RedisAddr:     getEnvAny([]string{"TIMEGATE_REDIS_ADDR", "REDIS_ADDR"}, f.str("redis_addr", "localhost:6379")),
		RedisPassword: getEnvAny([]string{"TIMEGATE_REDIS_PASSWORD", "REDIS_PASSWORD"}, f.str("redis_password", "")),
		RedisDB:       getEnvIntAny([]string{"TIMEGATE_REDIS_DB"}, f.int("redis_db", 0)),

		NATSURL:           getEnvAny([]string{"TIMEGATE_NATS_URL", "NATS_URL"}, f.str("nats_url", "")),
		NATSSubjectPrefix: getEnvAny([]string{"TIMEGATE_NATS_SUBJECT_PREFIX"}, f.str("nats_subject_prefix", "timegate")),
		EventsViaRedis:    getEnvBoolAny([]string{"TIMEGATE_EVENTS_REDIS"}, f.bool("events_redis", false)),

		S3Bucket:          getEnvAny([]string{"TIMEGATE_S3_BUCKET", "S3_BUCKET"}, f.str("s3_bucket", "")),
		S3Region:          getEnvAny([]string{"TIMEGATE_S3_REGION", "AWS_REGION"}, f.str("s3_region", "us-east-1")),
		S3Endpoint:        getEnvAny([]string{"TIMEGATE_S3_ENDPOINT", "S3_ENDPOINT"}, f.str("s3_endpoint", "")),
		S3AccessKeyID:     getEnvAny([]string{"TIMEGATE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, f.str("s3_access_key_id", "")),
		S3SecretAccessKey: getEnvAny([]string{"TIMEGATE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, f.str("s3_secret_access_key", "")),
		S3UsePathStyle:    getEnvBoolAny([]string{"TIMEGATE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, f.bool("s3_use_path_style", false)),
		S3Prefix:          getEnvAny([]string{"TIMEGATE_S3_PREFIX"}, f.str("s3_prefix", "content/")),

		TracingEnabled:    getEnvBoolAny([]string{"TIMEGATE_TRACING_ENABLED"}, f.bool("tracing_enabled", false)),
		OTLPEndpoint:      getEnvAny([]string{"TIMEGATE_OTLP_ENDPOINT"}, f.str("otlp_endpoint", "localhost:4317")),
		TracingSampleRate: getEnvFloatAny([]string{"TIMEGATE_TRACING_SAMPLE_RATE"}, f.float("tracing_sample_rate", 1.0)),

		ConfigFile: path,
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("TIMEGATE_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("TIMEGATE_JWT_SIGNING_KEY must be provided")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.PublishInterval <= 0 {
		return nil, fmt.Errorf("TIMEGATE_PUBLISH_INTERVAL must be positive")
	}
	if cfg.PublishRetryDelay <= 0 {
		return nil, fmt.Errorf("TIMEGATE_PUBLISH_RETRY_DELAY must be positive")
	}
	if cfg.ExcerptLength <= 0 {
		return nil, fmt.Errorf("TIMEGATE_EXCERPT_LENGTH must be positive")
	}
	if cfg.PendingBookingTTL < 0 {
		return nil, fmt.Errorf("TIMEGATE_PENDING_BOOKING_TTL must not be negative")
	}
	if cfg.SlotRemovalPolicy != RemovalReject && cfg.SlotRemovalPolicy != RemovalCascade {
		return nil, fmt.Errorf("TIMEGATE_SLOT_REMOVAL_POLICY must be %q or %q", RemovalReject, RemovalCascade)
	}

	if cfg.PaymentReturnSecret != "" && cfg.PaymentReturnSecret == cfg.JWTSigningKey {
		return nil, fmt.Errorf("TIMEGATE_PAYMENT_RETURN_SECRET must differ from TIMEGATE_JWT_SIGNING_KEY")
	}

	if strings.EqualFold(cfg.Environment, "production") && len(cfg.JWTSigningKey) < 32 {
		return nil, fmt.Errorf("TIMEGATE_JWT_SIGNING_KEY must be at least 32 bytes in production")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"DB_DSN":           "use TIMEGATE_DB_DSN",
		"JWT_SIGNING_KEY":  "use TIMEGATE_JWT_SIGNING_KEY",
		"PUBLISH_INTERVAL": "use TIMEGATE_PUBLISH_INTERVAL",
		"TRACING_ENABLED":  "use TIMEGATE_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("unprefixed env key %s is ignored; %s", key, recommendation))
		}
	}
	return warnings
}

// fileValues holds the YAML base layer. Keys are the lowercase env names
// without the TIMEGATE_ prefix.
type fileValues map[string]any

func readFile(path string) (fileValues, error) {
	if path == "" {
		return fileValues{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	values := fileValues{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return values, nil
}

func (f fileValues) raw(key string) (string, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return "", false
	}
	return strings.TrimSpace(fmt.Sprint(v)), true
}

func (f fileValues) str(key, def string) string {
	if v, ok := f.raw(key); ok && v != "" {
		return v
	}
	return def
}

func (f fileValues) int(key string, def int) int {
	if v, ok := f.raw(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func (f fileValues) bool(key string, def bool) bool {
	if v, ok := f.raw(key); ok {
		if parsed, ok := parseBool(v); ok {
			return parsed
		}
	}
	return def
}

func (f fileValues) float(key string, def float64) float64 {
	if v, ok := f.raw(key); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func (f fileValues) duration(key string, def time.Duration) time.Duration {
	if v, ok := f.raw(key); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, ok := parseBool(v); ok {
				return parsed
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s", "1h") or bare seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return def
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}
