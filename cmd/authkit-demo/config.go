package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the demo server settings.
type Config struct {
	Addr     string
	GRPCAddr string
	BaseURL  string
	Secret   string

	// Store is "memory", "fs:<path>" or "sqlite:<path>".
	Store string

	// Sessions is "jwt" or "database".
	Sessions string

	// RedisAddr enables the Redis rate limiter when set.
	RedisAddr string

	GitHubID     string
	GitHubSecret string

	ResendCooldown time.Duration
	LogLevel       string
	Debug          bool
}

// LoadDefaults populates development defaults.
func (c *Config) LoadDefaults() {
	c.Addr = ":8080"
	c.BaseURL = "http://localhost:8080"
	c.Store = "sqlite:authkit-demo.db"
	c.Sessions = "jwt"
	c.ResendCooldown = time.Minute
	c.LogLevel = "info"
}

func (c *Config) loadEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Addr, "DEMO_ADDR")
	set(&c.GRPCAddr, "DEMO_GRPC_ADDR")
	set(&c.BaseURL, "AUTH_URL")
	set(&c.Secret, "AUTH_SECRET")
	set(&c.Store, "DEMO_STORE")
	set(&c.Sessions, "DEMO_SESSIONS")
	set(&c.RedisAddr, "DEMO_REDIS_ADDR")
	set(&c.GitHubID, "AUTH_GITHUB_ID")
	set(&c.GitHubSecret, "AUTH_GITHUB_SECRET")
	set(&c.LogLevel, "DEMO_LOG_LEVEL")
}

func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("authkit-demo", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc", c.GRPCAddr, "gRPC listen address, empty to disable")
	fs.StringVar(&c.BaseURL, "base-url", c.BaseURL, "public origin")
	fs.StringVar(&c.Store, "store", c.Store, "memory, fs:<path> or sqlite:<path>")
	fs.StringVar(&c.Sessions, "sessions", c.Sessions, "session strategy: jwt or database")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "redis address for rate limiting")
	fs.DurationVar(&c.ResendCooldown, "cooldown", c.ResendCooldown, "minimum gap between verification or reset emails")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "verbose auth logging")
	return fs.Parse(args)
}

// validate rejects settings the server cannot start with.
func (c *Config) validate() error {
	if c.Secret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}
	switch c.Sessions {
	case "jwt", "database":
	default:
		return fmt.Errorf("unknown session strategy %q", c.Sessions)
	}
	kind, _, _ := strings.Cut(c.Store, ":")
	switch kind {
	case "memory", "fs", "sqlite":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

// LoadConfig applies defaults, then the environment, then flags.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.loadEnv(os.Getenv)
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
