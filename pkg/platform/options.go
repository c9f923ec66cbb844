package platform

import (
	"database/sql"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/codeengage/snippet-collab/pkg/audit"
	"github.com/codeengage/snippet-collab/pkg/auth"
	"github.com/codeengage/snippet-collab/pkg/collab"
)

// Options configures the platform. Every member except Config is optional
// and is built from Config when absent.
type Options struct {
	Config *Config

	// DB is used instead of opening database.dsn. The caller keeps ownership.
	DB *sql.DB

	// Redis is used instead of dialing redis.addrs. The caller keeps ownership.
	Redis redis.UniversalClient

	// KafkaProducer is used instead of dialing kafka.brokers. The audit
	// logger takes ownership and closes it.
	KafkaProducer sarama.SyncProducer

	Documents   collab.DocumentStore
	Users       collab.UserStore
	Permissions collab.PermissionChecker

	AuditLogger   audit.Logger
	Authenticator auth.Authenticator
	Clock         collab.Clock
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) { o.DB = db }
}

// WithRedis sets the redis client.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(o *Options) { o.Redis = rdb }
}

// WithKafkaProducer sets the producer behind the kafka audit sink.
func WithKafkaProducer(p sarama.SyncProducer) Option {
	return func(o *Options) { o.KafkaProducer = p }
}

// WithDirectory sets the document, user and permission lookups.
func WithDirectory(docs collab.DocumentStore, users collab.UserStore, perms collab.PermissionChecker) Option {
	return func(o *Options) {
		o.Documents = docs
		o.Users = users
		o.Permissions = perms
	}
}

// WithAuditLogger sets the audit logger, overriding audit.sink.
func WithAuditLogger(l audit.Logger) Option {
	return func(o *Options) { o.AuditLogger = l }
}

// WithAuthenticator sets the API authenticator.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(o *Options) { o.Authenticator = a }
}

// WithClock sets the engine clock.
func WithClock(c collab.Clock) Option {
	return func(o *Options) { o.Clock = c }
}
