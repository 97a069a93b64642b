// Package platform assembles the group ordering service from configuration.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/txn2/groupcart/pkg/api"
	_ "github.com/txn2/groupcart/pkg/api/docs" // registers the OpenAPI document
	"github.com/txn2/groupcart/pkg/audit"
	auditpg "github.com/txn2/groupcart/pkg/audit/postgres"
	"github.com/txn2/groupcart/pkg/auth"
	"github.com/txn2/groupcart/pkg/catalog"
	catalogpg "github.com/txn2/groupcart/pkg/catalog/postgres"
	"github.com/txn2/groupcart/pkg/database"
	"github.com/txn2/groupcart/pkg/database/migrate"
	"github.com/txn2/groupcart/pkg/group"
	grouppg "github.com/txn2/groupcart/pkg/group/postgres"
	"github.com/txn2/groupcart/pkg/health"
	mw "github.com/txn2/groupcart/pkg/http"
	"github.com/txn2/groupcart/pkg/mcptools"
	"github.com/txn2/groupcart/pkg/throttle"
)

// Platform is the assembled service.
type Platform struct {
	config    *Config
	logger    *slog.Logger
	lifecycle *Lifecycle
	health    *health.Checker

	db            *sql.DB
	store         group.Store
	catalog       catalog.Catalog
	activity      audit.Store
	authenticator auth.Authenticator
	limiter       throttle.Limiter
	service       *group.Service

	handler http.Handler
}

// New creates a platform instance. Resources opened during construction are
// released by Close if New fails partway.
func New(ctx context.Context, opts ...Option) (*Platform, error) {
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

	p := &Platform{
		config:    options.Config,
		logger:    options.Logger,
		lifecycle: NewLifecycle(),
		health:    health.NewChecker(),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	if err := p.initialize(ctx, options); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("initializing components: %w", err)
	}
	return p, nil
}

func (p *Platform) initialize(ctx context.Context, opts *Options) error {
	if err := p.initStorage(ctx, opts); err != nil {
		return err
	}
	if err := p.initAuth(opts); err != nil {
		return err
	}
	if err := p.initThrottle(ctx, opts); err != nil {
		return err
	}

	p.service = group.NewService(p.store, p.catalog, p.activity, group.Config{
		TokenBytes:    p.config.Groups.TokenBytes,
		TokenAttempts: p.config.Groups.TokenMaxAttempts,
	})
	p.handler = p.routes()
	return nil
}

// initStorage selects Postgres when a DSN or DB is given, memory otherwise.
func (p *Platform) initStorage(ctx context.Context, opts *Options) error {
	cfg := p.config

	if opts.DB == nil && cfg.Database.DSN == "" {
		p.logger.Warn("no database configured, using in-memory stores")
		p.store = group.NewMemoryStore()
		p.catalog = opts.Catalog
		if p.catalog == nil {
			p.catalog = catalog.NewMemoryCatalog(seedVariants(cfg.Catalog.Variants)...)
		}
		if !cfg.Audit.Disabled {
			p.activity = audit.NewMemoryStore(0)
		}
		return nil
	}

	db := opts.DB
	if db == nil {
		var err error
		db, err = database.Open(ctx, database.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		p.lifecycle.RegisterCloser("database", db)
	}
	p.db = db

	if !cfg.Database.SkipMigrations {
		if err := migrate.Run(db); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}
	p.health.AddCheck("database", db.PingContext)

	p.store = grouppg.New(db)
	p.catalog = opts.Catalog
	if p.catalog == nil {
		p.catalog = catalogpg.New(db)
	}
	if !cfg.Audit.Disabled {
		store := auditpg.New(db, auditpg.Config{RetentionDays: cfg.Audit.RetentionDays})
		p.activity = store
		p.lifecycle.Append(Hook{
			Name: "activity cleanup",
			OnStart: func(context.Context) error {
				store.StartCleanupRoutine(cfg.Audit.CleanupInterval)
				return nil
			},
			OnStop: func(context.Context) error { return store.Close() },
		})
	}
	return nil
}

func seedVariants(in []VariantConfig) []catalog.Variant {
	out := make([]catalog.Variant, 0, len(in))
	for _, v := range in {
		out = append(out, catalog.Variant{
			ID:              catalog.VariantID(v.ID),
			Label:           v.Label,
			ActualPrice:     v.ActualPrice,
			DiscountedPrice: v.DiscountedPrice,
			Stock:           v.Stock,
			IsActive:        !v.Inactive,
		})
	}
	return out
}

func (p *Platform) initAuth(opts *Options) error {
	if opts.Authenticator != nil {
		p.authenticator = opts.Authenticator
		return nil
	}

	var chain auth.Chain
	if key := p.config.Auth.JWT.SigningKey; key != "" {
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     p.config.Auth.JWT.Issuer,
			Audience:   p.config.Auth.JWT.Audience,
			SigningKey: []byte(key),
		})
		if err != nil {
			return fmt.Errorf("creating JWT authenticator: %w", err)
		}
		chain = append(chain, jwtAuth)
	}
	if len(p.config.Auth.APIKeys) > 0 {
		keys := make([]auth.APIKey, 0, len(p.config.Auth.APIKeys))
		for _, k := range p.config.Auth.APIKeys {
			keys = append(keys, auth.APIKey{Name: k.Name, UserID: k.UserID, Hash: k.Hash})
		}
		keyAuth, err := auth.NewAPIKeyAuthenticator(keys)
		if err != nil {
			return fmt.Errorf("creating API key authenticator: %w", err)
		}
		chain = append(chain, keyAuth)
	}
	p.authenticator = chain
	return nil
}

func (p *Platform) initThrottle(ctx context.Context, opts *Options) error {
	if opts.JoinLimiter != nil {
		p.limiter = opts.JoinLimiter
		return nil
	}

	cfg := p.config.Throttle
	switch cfg.Backend {
	case ThrottleNone:
		p.limiter = throttle.Unlimited{}
	case ThrottleRedis:
		client, err := throttle.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		p.lifecycle.RegisterCloser("redis", client)
		p.health.AddCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
		p.limiter = throttle.NewRedisLimiter(client, throttle.RedisConfig{Limit: cfg.JoinLimit, Window: cfg.JoinWindow})
	default:
		limiter := throttle.NewMemoryLimiter(cfg.JoinLimit, cfg.JoinWindow, nil)
		p.lifecycle.Append(Hook{
			Name: "join throttle cleanup",
			OnStart: func(context.Context) error {
				limiter.StartCleanupRoutine(cfg.JoinWindow)
				return nil
			},
			OnStop: func(context.Context) error { return limiter.Close() },
		})
		p.limiter = limiter
	}
	return nil
}

func (p *Platform) routes() http.Handler {
	requireAuth := mw.Authenticate(p.authenticator)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", p.health.LivenessHandler())
	mux.HandleFunc("GET /readyz", p.health.ReadinessHandler())
	mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	groups := requireAuth(api.NewHandler(p.service, api.Options{JoinLimiter: p.limiter, Logger: p.logger}))
	mux.Handle("/groups", groups)
	mux.Handle("/groups/", groups)

	if p.config.MCP.Enabled {
		tk := mcptools.NewToolkit(p.service, mcptools.HeaderIdentity(p.authenticator), mcptools.Options{
			JoinLimiter: p.limiter,
			Logger:      p.logger,
		})
		server := mcptools.NewServer(tk, mcptools.Options{Name: p.config.Server.Name, Version: p.config.Server.Version})
		mux.Handle(p.config.MCP.Path, requireAuth(mcptools.Handler(server)))
	}

	return mw.RequestLogger(p.logger)(mux)
}

// Handler returns the root HTTP handler.
func (p *Platform) Handler() http.Handler { return p.handler }

// Service returns the group service.
func (p *Platform) Service() *group.Service { return p.service }

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker { return p.health }

// Config returns the configuration.
func (p *Platform) Config() *Config { return p.config }

// Start starts background components and marks the service ready.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	p.health.SetReady()
	return nil
}

// Stop marks the service draining and stops background components.
func (p *Platform) Stop(ctx context.Context) error {
	p.health.SetDraining()
	return p.lifecycle.Stop(ctx)
}

// Close releases every resource, started or not.
func (p *Platform) Close() error {
	p.health.SetDraining()
	return p.lifecycle.Release(context.Background())
}
