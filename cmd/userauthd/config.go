package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/brewboard/userauth"
)

// daemonConfig is loaded from flag defaults, then the YAML file, then flags
// set on the command line.
type daemonConfig struct {
	Listen          string        `koanf:"listen"`
	MetricsListen   string        `koanf:"metrics_listen"`
	TrustProxy      bool          `koanf:"trust_proxy"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	Log struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	} `koanf:"log"`

	Store struct {
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
		Prefix string `koanf:"prefix"`
	} `koanf:"store"`

	// Redis backs the rate limiters and the redis store. "memory" starts an
	// in-process miniredis for local runs.
	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Token struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"token"`

	Policy struct {
		MinScore int `koanf:"min_score"`
	} `koanf:"policy"`

	Federated struct {
		Audience string   `koanf:"audience"`
		Issuers  []string `koanf:"issuers"`
		JWKSURL  string   `koanf:"jwks_url"`
	} `koanf:"federated"`

	Audit struct {
		Enabled bool `koanf:"enabled"`
	} `koanf:"audit"`

	Metrics struct {
		Enabled bool `koanf:"enabled"`
	} `koanf:"metrics"`
}

func registerFlags(fs *pflag.FlagSet) {
	defaults := userauth.DefaultConfig()

	fs.String("listen", ":8080", "HTTP listen address")
	fs.String("metrics_listen", ":9100", "metrics listen address, empty to disable")
	fs.Bool("trust_proxy", false, "take the client IP from X-Forwarded-For")
	fs.Duration("shutdown_timeout", 10*time.Second, "graceful shutdown timeout")

	fs.String("log.format", "json", "log format (json or text)")
	fs.String("log.level", "info", "log level (debug, info, warn, error)")

	fs.String("store.driver", "memory", "identity store (memory, redis, postgres, sqlite)")
	fs.String("store.dsn", "", "postgres DSN or sqlite file path")
	fs.String("store.prefix", "userauth", "key prefix for the redis store")

	fs.String("redis.addr", "", "redis address, \"memory\" for an in-process server, empty to disable")
	fs.String("redis.password", "", "redis password")
	fs.Int("redis.db", 0, "redis database number")

	fs.Duration("token.ttl", defaults.Token.TTL, "session token lifetime")
	fs.Int("policy.min_score", defaults.Policy.MinScore, "minimum password strength score (0-4)")

	fs.String("federated.audience", "", "client id federated ID tokens must be issued for")
	fs.StringSlice("federated.issuers", nil, "trusted ID token issuers")
	fs.String("federated.jwks_url", "", "JWKS endpoint of the identity provider")

	fs.Bool("audit.enabled", false, "write audit events to stdout as JSON lines")
	fs.Bool("metrics.enabled", true, "collect engine metrics")
}

func loadConfig(fs *pflag.FlagSet, path string) (daemonConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return daemonConfig{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	// Flag defaults fill keys the file left unset; flags set on the command
	// line win over the file.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return daemonConfig{}, fmt.Errorf("load flags: %w", err)
	}

	var cfg daemonConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func (c daemonConfig) validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen address is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}

	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("store.driver=redis needs redis.addr")
		}
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.driver=%s needs store.dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Federated.Audience != "" && (len(c.Federated.Issuers) == 0 || c.Federated.JWKSURL == "") {
		return errors.New("federated sign-in needs federated.issuers and federated.jwks_url")
	}

	engineCfg := c.engineConfig()
	return engineCfg.Validate()
}

func (c daemonConfig) engineConfig() userauth.Config {
	cfg := userauth.DefaultConfig()
	cfg.Token.TTL = c.Token.TTL
	cfg.Policy.MinScore = c.Policy.MinScore
	cfg.Federated.Audience = c.Federated.Audience
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled
	return cfg
}
