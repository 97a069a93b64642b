package platform

import (
	"database/sql"
	"log/slog"

	"github.com/txn2/groupcart/pkg/auth"
	"github.com/txn2/groupcart/pkg/catalog"
	"github.com/txn2/groupcart/pkg/throttle"
)

// Options configures the platform.
type Options struct {
	// Config is the service configuration.
	Config *Config

	// DB is used instead of opening database.dsn.
	DB *sql.DB

	// Catalog replaces the configured product catalog.
	Catalog catalog.Catalog

	// Authenticator replaces the configured JWT and API key authenticators.
	Authenticator auth.Authenticator

	// JoinLimiter replaces the configured join throttle.
	JoinLimiter throttle.Limiter

	Logger *slog.Logger
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

// WithCatalog sets the product catalog.
func WithCatalog(c catalog.Catalog) Option {
	return func(o *Options) { o.Catalog = c }
}

// WithAuthenticator sets the authenticator.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(o *Options) { o.Authenticator = a }
}

// WithJoinLimiter sets the join throttle.
func WithJoinLimiter(l throttle.Limiter) Option {
	return func(o *Options) { o.JoinLimiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
