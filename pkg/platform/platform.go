package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/codeengage/snippet-collab/pkg/admin"
	"github.com/codeengage/snippet-collab/pkg/api"
	"github.com/codeengage/snippet-collab/pkg/audit"
	auditkafka "github.com/codeengage/snippet-collab/pkg/audit/kafka"
	auditpostgres "github.com/codeengage/snippet-collab/pkg/audit/postgres"
	"github.com/codeengage/snippet-collab/pkg/auth"
	"github.com/codeengage/snippet-collab/pkg/collab"
	collabpostgres "github.com/codeengage/snippet-collab/pkg/collab/postgres"
	collabredis "github.com/codeengage/snippet-collab/pkg/collab/redis"
	"github.com/codeengage/snippet-collab/pkg/database/migrate"
	"github.com/codeengage/snippet-collab/pkg/directory"
	directorypostgres "github.com/codeengage/snippet-collab/pkg/directory/postgres"
	"github.com/codeengage/snippet-collab/pkg/health"
)

// Platform is the assembled service.
type Platform struct {
	config *Config

	db      *sql.DB
	ownsDB  bool
	rdb     redis.UniversalClient
	ownsRDB bool

	store         collab.Store
	manager       *collab.Manager
	sweeper       *collab.Sweeper
	auditLogger   audit.Logger
	auditStore    *auditpostgres.Store
	authenticator auth.Authenticator
	health        *health.Checker
	lifecycle     *Lifecycle
	server        *HTTPServer
}

// New builds the platform. Resources opened here are released by Close,
// including on a failed New.
func New(opts ...Option) (p *Platform, err error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p = &Platform{
		config:    options.Config,
		health:    health.NewChecker(),
		lifecycle: NewLifecycle(),
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	steps := []func(*Options) error{
		p.initDatabase,
		p.initRedis,
		p.initStore,
		p.initAudit,
		p.initAuth,
		p.initManager,
	}
	for _, step := range steps {
		if err := step(options); err != nil {
			return nil, err
		}
	}
	p.initLifecycle()
	return p, nil
}

// OpenDatabase opens a postgres pool sized by cfg. It does not connect.
func OpenDatabase(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func (p *Platform) initDatabase(opts *Options) error {
	if opts.DB != nil {
		p.db = opts.DB
	} else if p.config.Database.DSN != "" {
		db, err := OpenDatabase(p.config.Database)
		if err != nil {
			return err
		}
		p.db, p.ownsDB = db, true
	}
	if p.db == nil {
		return nil
	}

	p.health.AddProbe("database", p.db.PingContext)
	if p.config.Database.AutoMigrate {
		if err := migrate.Run(p.db); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}
	return nil
}

func (p *Platform) initRedis(opts *Options) error {
	if opts.Redis != nil {
		p.rdb = opts.Redis
	} else if p.config.Store.Backend == BackendRedis {
		p.rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    p.config.Redis.Addrs,
			Password: p.config.Redis.Password,
			DB:       p.config.Redis.DB,
		})
		p.ownsRDB = true
	}
	if p.rdb != nil {
		p.health.AddProbe("redis", func(ctx context.Context) error {
			return p.rdb.Ping(ctx).Err()
		})
	}
	return nil
}

func (p *Platform) initStore(_ *Options) error {
	switch p.config.Store.Backend {
	case BackendPostgres:
		if p.db == nil {
			return errors.New("postgres store requires a database")
		}
		p.store = collabpostgres.New(p.db)
	case BackendRedis:
		p.store = collabredis.New(p.rdb, collabredis.Config{Prefix: p.config.Redis.Prefix})
	default:
		p.store = collab.NewMemoryStore()
	}
	slog.Info("platform: session store ready", "backend", p.config.Store.Backend)
	return nil
}

func (p *Platform) initAudit(opts *Options) error {
	if p.db != nil {
		p.auditStore = auditpostgres.New(p.db, auditpostgres.Config{RetentionDays: p.config.Audit.RetentionDays})
	}

	if opts.AuditLogger != nil {
		p.auditLogger = opts.AuditLogger
		return nil
	}

	switch p.config.Audit.Sink {
	case AuditSinkPostgres:
		if p.auditStore == nil {
			return errors.New("postgres audit sink requires a database")
		}
		p.auditLogger = p.auditStore
	case AuditSinkKafka:
		producer := opts.KafkaProducer
		if producer == nil {
			var err error
			if producer, err = auditkafka.NewProducer(p.config.Kafka.Brokers); err != nil {
				return err
			}
		}
		p.auditLogger = auditkafka.New(producer, auditkafka.Config{
			Topic:     p.config.Kafka.Topic,
			Workers:   p.config.Kafka.Workers,
			QueueSize: p.config.Kafka.QueueSize,
			MaxRetry:  p.config.Kafka.MaxRetry,
		})
	default:
		p.auditLogger = audit.NoopLogger{}
	}
	return nil
}

func (p *Platform) initAuth(opts *Options) error {
	if opts.Authenticator != nil {
		p.authenticator = opts.Authenticator
		return nil
	}

	var chain []auth.Authenticator
	if c := p.config.Auth.APIKeys; c.Enabled {
		a, err := auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{Keys: c.Keys})
		if err != nil {
			return fmt.Errorf("creating api key authenticator: %w", err)
		}
		chain = append(chain, a)
	}
	if c := p.config.Auth.JWT; c.Enabled {
		a, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:        c.Issuer,
			SigningKey:    []byte(c.SigningKey),
			RoleClaimPath: c.RoleClaimPath,
			RolePrefix:    c.RolePrefix,
			Leeway:        c.Leeway,
		})
		if err != nil {
			return fmt.Errorf("creating jwt authenticator: %w", err)
		}
		chain = append(chain, a)
	}
	p.authenticator = auth.NewChainedAuthenticator(chain...)
	return nil
}

func (p *Platform) initManager(opts *Options) error {
	docs, users, perms := opts.Documents, opts.Users, opts.Permissions
	switch {
	case docs != nil && users != nil && perms != nil:
	case p.db != nil:
		docs = directorypostgres.NewDocuments(p.db)
		users = directorypostgres.NewUsers(p.db)
		perms = directorypostgres.NewPermissions(p.db)
	default:
		slog.Warn("platform: no database configured, using an empty in-memory directory")
		docs = directory.NewMemoryDocuments()
		users = directory.NewMemoryUsers()
		perms = directory.NewMemoryPermissions()
	}

	s := p.config.Session
	mgr, err := collab.NewManager(collab.Deps{
		Store:       p.store,
		Documents:   docs,
		Users:       users,
		Permissions: perms,
		Audit:       p.auditLogger,
		Clock:       opts.Clock,
	}, collab.Config{
		SessionTimeout:  s.Timeout,
		MaxParticipants: s.MaxParticipants,
		MaxRetries:      s.MaxRetries,
		LockTTL:         s.LockTTL,
		WriteTimeout:    s.WriteTimeout,
		MessageLimit:    s.MessageLimit,
		InviteTTL:       p.config.Invite.TTL,
		InviteKey:       []byte(p.config.Invite.SigningKey),
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	p.manager = mgr
	p.sweeper = collab.NewSweeper(mgr)
	return nil
}

func (p *Platform) initLifecycle() {
	p.lifecycle.Append(Hook{
		Name: "session sweeper",
		Start: func(context.Context) error {
			p.sweeper.StartCleanupRoutine(p.config.Session.SweepInterval)
			return nil
		},
		Stop: func(context.Context) error { return p.sweeper.Close() },
	})
	if p.auditStore != nil {
		p.lifecycle.Append(Hook{
			Name: "audit retention",
			Start: func(context.Context) error {
				p.auditStore.StartCleanupRoutine(p.config.Audit.CleanupInterval)
				return nil
			},
		})
	}
	p.server = NewHTTPServer(p.config.Server, p.Handler())
	p.lifecycle.RegisterComponent("http server", p.server)
}

// Handler returns the full HTTP surface: session API, admin API and probes.
func (p *Platform) Handler() http.Handler {
	deps := admin.Deps{Sweeper: p.manager}
	if p.auditStore != nil {
		deps.AuditQuerier = p.auditStore
		deps.AuditMetricsQuerier = p.auditStore
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/admin/", admin.NewHandler(deps, admin.RequireAdmin(p.authenticator)))
	mux.Handle("/api/v1/", api.NewHandler(p.manager, auth.Middleware(p.authenticator)))
	mux.HandleFunc("GET /healthz", p.health.LivenessHandler())
	mux.HandleFunc("GET /readyz", p.health.ReadinessHandler())
	return mux
}

// Start starts background routines and the HTTP server, then reports ready.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	p.health.SetReady()
	return nil
}

// Stop reports draining and stops everything Start started.
func (p *Platform) Stop(ctx context.Context) error {
	p.health.SetDraining()
	return p.lifecycle.Stop(ctx)
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config { return p.config }

// Manager returns the session manager.
func (p *Platform) Manager() *collab.Manager { return p.manager }

// Server returns the HTTP server component.
func (p *Platform) Server() *HTTPServer { return p.server }

// DB returns the database, or nil when none is configured.
func (p *Platform) DB() *sql.DB { return p.db }

func closeResource(errs *[]error, closer Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		*errs = append(*errs, err)
	}
}

// Close releases the store, the audit logger and any connections the
// platform opened itself.
func (p *Platform) Close() error {
	var errs []error
	if p.store != nil {
		closeResource(&errs, p.store)
	}
	if p.auditLogger != nil {
		closeResource(&errs, p.auditLogger)
	}
	if p.auditStore != nil && Closer(p.auditStore) != p.auditLogger {
		closeResource(&errs, p.auditStore)
	}
	if p.ownsRDB {
		closeResource(&errs, p.rdb)
	}
	if p.ownsDB {
		closeResource(&errs, p.db)
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing platform: %w", errors.Join(errs...))
	}
	return nil
}
