package platform

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GROUPCART_"

// Throttle backends.
const (
	ThrottleMemory = "memory"
	ThrottleRedis  = "redis"
	ThrottleNone   = "none"
)

const minSigningKeyBytes = 32

// Config is the service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Auth     AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Groups   GroupsConfig   `yaml:"groups" envPrefix:"GROUPS_"`
	Throttle ThrottleConfig `yaml:"throttle" envPrefix:"THROTTLE_"`
	Audit    AuditConfig    `yaml:"audit" envPrefix:"AUDIT_"`
	MCP      MCPConfig      `yaml:"mcp" envPrefix:"MCP_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`

	// Catalog seeds the in-memory catalog. Ignored by Postgres deployments.
	Catalog CatalogConfig `yaml:"catalog"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Name            string        `yaml:"name" env:"NAME"`
	Version         string        `yaml:"version" env:"VERSION"`
	Address         string        `yaml:"address" env:"ADDRESS"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig configures PostgreSQL. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	SkipMigrations  bool          `yaml:"skip_migrations" env:"SKIP_MIGRATIONS"`
}

// AuthConfig configures caller authentication. At least one method is required.
type AuthConfig struct {
	JWT     JWTConfig      `yaml:"jwt" envPrefix:"JWT_"`
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// JWTConfig configures HMAC bearer tokens.
type JWTConfig struct {
	Issuer     string `yaml:"issuer" env:"ISSUER"`
	Audience   string `yaml:"audience" env:"AUDIENCE"`
	SigningKey string `yaml:"signing_key" env:"SIGNING_KEY"`
}

// APIKeyConfig is one API key, stored as a bcrypt hash.
type APIKeyConfig struct {
	Name   string `yaml:"name"`
	UserID string `yaml:"user_id"`
	Hash   string `yaml:"hash"`
}

// GroupsConfig tunes session creation.
type GroupsConfig struct {
	TokenBytes       int `yaml:"token_bytes" env:"TOKEN_BYTES"`
	TokenMaxAttempts int `yaml:"token_max_attempts" env:"TOKEN_MAX_ATTEMPTS"`
}

// ThrottleConfig configures join rate limiting.
type ThrottleConfig struct {
	Backend    string        `yaml:"backend" env:"BACKEND"`
	RedisURL   string        `yaml:"redis_url" env:"REDIS_URL"`
	JoinLimit  int           `yaml:"join_limit" env:"JOIN_LIMIT"`
	JoinWindow time.Duration `yaml:"join_window" env:"JOIN_WINDOW"`
}

// AuditConfig configures the activity log.
type AuditConfig struct {
	Disabled        bool          `yaml:"disabled" env:"DISABLED"`
	RetentionDays   int           `yaml:"retention_days" env:"RETENTION_DAYS"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// MCPConfig configures the Model Context Protocol endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// CatalogConfig lists product variants for the in-memory catalog.
type CatalogConfig struct {
	Variants []VariantConfig `yaml:"variants"`
}

// VariantConfig seeds one product variant.
type VariantConfig struct {
	ID              string `yaml:"id"`
	Label           string `yaml:"label"`
	ActualPrice     int64  `yaml:"actual_price"`
	DiscountedPrice int64  `yaml:"discounted_price"`
	Stock           int    `yaml:"stock"`
	Inactive        bool   `yaml:"inactive"`
}

// LoadConfig loads configuration from a file, then applies GROUPCART_*
// environment overrides and defaults. An empty path skips the file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by admin
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = []byte(expandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
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
	if cfg.Server.Name == "" {
		cfg.Server.Name = "groupcart"
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
		cfg.Server.ShutdownTimeout = 20 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Throttle.Backend == "" {
		cfg.Throttle.Backend = ThrottleMemory
	}
	if cfg.Throttle.JoinLimit == 0 {
		cfg.Throttle.JoinLimit = 10
	}
	if cfg.Throttle.JoinWindow == 0 {
		cfg.Throttle.JoinWindow = time.Minute
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = time.Hour
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/mcp"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWT.SigningKey == "" && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("auth: configure auth.jwt.signing_key or auth.api_keys"))
	}
	if k := c.Auth.JWT.SigningKey; k != "" && len(k) < minSigningKeyBytes {
		errs = append(errs, fmt.Errorf("auth.jwt.signing_key must be at least %d bytes", minSigningKeyBytes))
	}
	for i, k := range c.Auth.APIKeys {
		if k.Name == "" || k.Hash == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d]: name and hash are required", i))
		}
	}

	switch c.Throttle.Backend {
	case ThrottleMemory, ThrottleNone:
	case ThrottleRedis:
		if c.Throttle.RedisURL == "" {
			errs = append(errs, errors.New("throttle.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("throttle.backend %q is not one of memory, redis, none", c.Throttle.Backend))
	}
	if c.Throttle.JoinLimit < 0 || c.Throttle.JoinWindow < 0 {
		errs = append(errs, errors.New("throttle.join_limit and throttle.join_window must not be negative"))
	}

	if c.Groups.TokenBytes < 0 || c.Groups.TokenMaxAttempts < 0 {
		errs = append(errs, errors.New("groups.token_bytes and groups.token_max_attempts must not be negative"))
	}
	if c.Database.DSN != "" && len(c.Catalog.Variants) > 0 {
		errs = append(errs, errors.New("catalog.variants seeds the in-memory catalog and cannot be combined with database.dsn"))
	}
	seen := make(map[string]bool, len(c.Catalog.Variants))
	for i, v := range c.Catalog.Variants {
		switch {
		case v.ID == "":
			errs = append(errs, fmt.Errorf("catalog.variants[%d]: id is required", i))
		case seen[v.ID]:
			errs = append(errs, fmt.Errorf("catalog.variants[%d]: duplicate id %q", i, v.ID))
		case v.Stock < 0:
			errs = append(errs, fmt.Errorf("catalog.variants[%d]: stock must not be negative", i))
		}
		seen[v.ID] = true
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}
