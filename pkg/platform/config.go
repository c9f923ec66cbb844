// Package platform assembles the collaboration service from configuration.
package platform

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codeengage/snippet-collab/pkg/auth"
	"github.com/codeengage/snippet-collab/pkg/collab"
)

// CurrentConfigVersion is the only accepted apiVersion.
const CurrentConfigVersion = "v1"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Audit sinks.
const (
	AuditSinkNone     = "none"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
)

// minSigningKeyLen is the minimum HMAC key length in bytes.
const minSigningKeyLen = 32

// Config holds the complete service configuration.
type Config struct {
	APIVersion string         `yaml:"apiVersion"`
	Server     ServerConfig   `yaml:"server"`
	Logging    LoggingConfig  `yaml:"logging"`
	Database   DatabaseConfig `yaml:"database"`
	Store      StoreConfig    `yaml:"store"`
	Redis      RedisConfig    `yaml:"redis"`
	Session    SessionConfig  `yaml:"session"`
	Auth       AuthConfig     `yaml:"auth"`
	Invite     InviteConfig   `yaml:"invite"`
	Audit      AuditConfig    `yaml:"audit"`
	Kafka      KafkaConfig    `yaml:"kafka"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DatabaseConfig configures the PostgreSQL pool. An empty DSN runs without a
// database: in-memory directory, no postgres store or audit.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// RedisConfig configures the redis client used by the redis backend.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
}

// SessionConfig tunes the session engine.
type SessionConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxParticipants int           `yaml:"max_participants"`
	MaxRetries      int           `yaml:"max_retries"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MessageLimit    int           `yaml:"message_limit"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	JWT     JWTAuthConfig    `yaml:"jwt"`
	APIKeys APIKeyAuthConfig `yaml:"api_keys"`
}

// JWTAuthConfig configures bearer token authentication.
type JWTAuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Issuer        string        `yaml:"issuer"`
	SigningKey    string        `yaml:"signing_key"`
	RoleClaimPath string        `yaml:"role_claim_path"`
	RolePrefix    string        `yaml:"role_prefix"`
	Leeway        time.Duration `yaml:"leeway"`
}

// APIKeyAuthConfig configures API key authentication.
type APIKeyAuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Keys    []auth.APIKey `yaml:"keys"`
}

// InviteConfig configures signed invite links.
type InviteConfig struct {
	SigningKey string        `yaml:"signing_key"`
	TTL        time.Duration `yaml:"ttl"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	Sink            string        `yaml:"sink"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// KafkaConfig configures the kafka audit sink.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Workers   int      `yaml:"workers"`
	QueueSize int      `yaml:"queue_size"`
	MaxRetry  int      `yaml:"max_retry"`
}

// LoadConfig loads configuration from a file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML after expanding ${VAR} references and applies
// defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.APIVersion != "" && cfg.APIVersion != CurrentConfigVersion {
		return nil, fmt.Errorf("unsupported apiVersion %q (supported: %s)", cfg.APIVersion, CurrentConfigVersion)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 25 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
		if cfg.Database.DSN != "" {
			cfg.Store.Backend = BackendPostgres
		}
	}
	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = collab.DefaultSessionTimeout
	}
	if cfg.Session.MaxParticipants == 0 {
		cfg.Session.MaxParticipants = collab.DefaultMaxParticipants
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = 5 * time.Minute
	}
	if cfg.Invite.TTL == 0 {
		cfg.Invite.TTL = collab.DefaultInviteTTL
	}
	if cfg.Audit.Sink == "" {
		cfg.Audit.Sink = AuditSinkNone
		if cfg.Database.DSN != "" {
			cfg.Audit.Sink = AuditSinkPostgres
		}
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = time.Hour
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "snippet-collab.audit"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	if !slices.Contains([]string{"json", "text"}, c.Logging.Format) {
		errs = append(errs, "logging.format must be json or text")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres store")
		}
	case BackendRedis:
		if len(c.Redis.Addrs) == 0 {
			errs = append(errs, "redis.addrs is required for the redis store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend %q must be memory, postgres or redis", c.Store.Backend))
	}

	if c.Session.Timeout < 0 || c.Session.LockTTL < 0 || c.Session.WriteTimeout < 0 || c.Session.SweepInterval < 0 {
		errs = append(errs, "session durations must not be negative")
	}
	if c.Session.MaxParticipants < 0 || c.Session.MaxRetries < 0 || c.Session.MessageLimit < 0 {
		errs = append(errs, "session limits must not be negative")
	}

	if len(c.Invite.SigningKey) < minSigningKeyLen {
		errs = append(errs, fmt.Sprintf("invite.signing_key must be at least %d bytes", minSigningKeyLen))
	}

	if !c.Auth.JWT.Enabled && !c.Auth.APIKeys.Enabled {
		errs = append(errs, "at least one of auth.jwt or auth.api_keys must be enabled")
	}
	if c.Auth.JWT.Enabled {
		if c.Auth.JWT.Issuer == "" {
			errs = append(errs, "auth.jwt.issuer is required when JWT auth is enabled")
		}
		if len(c.Auth.JWT.SigningKey) < minSigningKeyLen {
			errs = append(errs, fmt.Sprintf("auth.jwt.signing_key must be at least %d bytes", minSigningKeyLen))
		}
	}
	if c.Auth.APIKeys.Enabled && len(c.Auth.APIKeys.Keys) == 0 {
		errs = append(errs, "auth.api_keys.keys must not be empty when API key auth is enabled")
	}

	switch c.Audit.Sink {
	case AuditSinkNone:
	case AuditSinkPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres audit sink")
		}
	case AuditSinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka.brokers is required for the kafka audit sink")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.sink %q must be none, postgres or kafka", c.Audit.Sink))
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, "server.tls.cert_file and key_file are required when TLS is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level %q is invalid", s)
	}
	return level, nil
}
