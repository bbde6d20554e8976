package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	strutil "certo/pkg/platform/strings"
)

// Config is the full service configuration.
type Config struct {
	Server      Server
	Auth        Auth
	LogLevel    string
	Database    Database
	Redis       RedisConfig
	Kafka       Kafka
	Registry    Upstream
	Issuer      Upstream
	Idempotency Idempotency
	Issuance    Issuance
	Jobs        Jobs
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Auth configures operator bearer tokens. AdminToken guards the operations
// routes, which are not mounted when it is empty.
type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	AdminToken    string
}

// Database selects PostgreSQL. An empty DSN runs on in-memory stores.
type Database struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig backs the registry lookup cache. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// Kafka enables the audit outbox relay when brokers are set.
type Kafka struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
}

// Upstream is one external system behind a bulkhead and a circuit breaker.
type Upstream struct {
	BaseURL  string
	Username string
	Password string

	Timeout           time.Duration
	ErrorThresholdPct int
	MinimumRequests   int
	ResetTimeout      time.Duration
	MaxConcurrent     int
}

type Idempotency struct {
	TTL time.Duration
}

type Issuance struct {
	MaxRetries     int
	ReconcileAfter time.Duration
	BatchSize      int
}

// Jobs holds cron schedules. An empty schedule disables the job.
type Jobs struct {
	IdempotencySweep string
	AuditRetention   string
	Reconcile        string
	TransientRetry   string
	OutboxRelay      string

	AuditRetentionPeriod time.Duration
}

// FromEnv builds the configuration from environment variables, loading a
// .env file first when one exists. Variables already set win over the file.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var p parser
	cfg := Config{
		Server: Server{
			Addr:            p.str("CERTO_ADDR", ":8080"),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Auth: Auth{
			JWTSigningKey: p.str("JWT_SIGNING_KEY", ""),
			JWTIssuer:     p.str("JWT_ISSUER", ""),
			AdminToken:    p.str("ADMIN_API_TOKEN", ""),
		},
		LogLevel: p.str("LOG_LEVEL", "info"),
		Database: Database{
			DSN:             p.str("DATABASE_URL", ""),
			MaxOpenConns:    p.integer("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    p.integer("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          p.str("REDIS_URL", ""),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", time.Second),
			CacheTTL:     p.duration("REGISTRY_CACHE_TTL", 5*time.Minute),
		},
		Kafka: Kafka{
			Brokers:           p.list("KAFKA_BROKERS"),
			Topic:             p.str("AUDIT_TOPIC", "certo.audit"),
			ClientID:          p.str("KAFKA_CLIENT_ID", "certo"),
			Partitions:        int32(p.integer("AUDIT_TOPIC_PARTITIONS", 3)),
			ReplicationFactor: int16(p.integer("AUDIT_TOPIC_REPLICATION", 1)),
		},
		Registry: p.upstream("REGISTRY", 10),
		Issuer:   p.upstream("ISSUER", 10),
		Idempotency: Idempotency{
			TTL: p.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Issuance: Issuance{
			MaxRetries:     p.integer("MAX_RETRIES", 3),
			ReconcileAfter: p.duration("RECONCILE_AFTER", 2*time.Minute),
			BatchSize:      p.integer("JOB_BATCH_SIZE", 50),
		},
		Jobs: Jobs{
			IdempotencySweep:     p.str("IDEMPOTENCY_SWEEP_SCHEDULE", "@every 10m"),
			AuditRetention:       p.str("AUDIT_RETENTION_SCHEDULE", "@daily"),
			Reconcile:            p.str("RECONCILE_SCHEDULE", "@every 5m"),
			TransientRetry:       p.str("RETRY_SCHEDULE", ""),
			OutboxRelay:          p.str("OUTBOX_RELAY_SCHEDULE", "@every 5s"),
			AuditRetentionPeriod: p.duration("AUDIT_RETENTION", 365*24*time.Hour),
		},
	}
	if err := p.err(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.Registry.BaseURL == "" {
		errs = append(errs, errors.New("REGISTRY_BASE_URL is required"))
	}
	if c.Issuer.BaseURL == "" {
		errs = append(errs, errors.New("ISSUER_BASE_URL is required"))
	}
	for _, u := range []struct {
		name string
		pct  int
	}{{"REGISTRY", c.Registry.ErrorThresholdPct}, {"ISSUER", c.Issuer.ErrorThresholdPct}} {
		if u.pct < 1 || u.pct > 100 {
			errs = append(errs, fmt.Errorf("%s_ERROR_THRESHOLD_PCT must be between 1 and 100", u.name))
		}
	}
	return errors.Join(errs...)
}

// parser collects every malformed variable so one run reports them all.
type parser struct {
	errs []error
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be a non-negative integer", key))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be a positive duration", key))
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	return strutil.SplitList(p.str(key, ""))
}

func (p *parser) upstream(prefix string, concurrency int) Upstream {
	return Upstream{
		BaseURL:           p.str(prefix+"_BASE_URL", ""),
		Username:          p.str(prefix+"_USERNAME", ""),
		Password:          p.str(prefix+"_PASSWORD", ""),
		Timeout:           p.duration(prefix+"_TIMEOUT", 10*time.Second),
		ErrorThresholdPct: p.integer(prefix+"_ERROR_THRESHOLD_PCT", 50),
		MinimumRequests:   p.integer(prefix+"_MINIMUM_REQUESTS", 5),
		ResetTimeout:      p.duration(prefix+"_RESET_TIMEOUT", 30*time.Second),
		MaxConcurrent:     p.integer(prefix+"_MAX_CONCURRENT", concurrency),
	}
}
