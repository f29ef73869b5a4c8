// Package management implements the HTTP/WS management surface (C6): route
// CRUD, the tunnel WS upgrade endpoint, and bearer-JWT authentication (C8).
package management

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the relay server's environment-derived configuration. Every
// field is bound with a struct tag rather than parsed by hand, matching
// this repo's ambient config idiom.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8000"`

	APIBaseURL    string `env:"API_BASE_URL"`
	WSBaseURL     string `env:"WS_BASE_URL"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	TunnelTimeout time.Duration `env:"TUNNEL_TIMEOUT" envDefault:"30s"`
	PingInterval  time.Duration `env:"PING_INTERVAL" envDefault:"10s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"routetunnel.db"`

	JWTSecret    string `env:"JWT_SECRET"`
	JWTAlgorithm string `env:"JWT_ALGORITHM" envDefault:"HS256"`
}

// LoadConfig parses Config from the process environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment configuration: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

// Addr is the host:port this server should bind on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURLs resolves the two base URLs handed back in a route's creation
// response. PUBLIC_BASE_URL falls back to API_BASE_URL when unset; WS_BASE_URL
// never falls back to anything, it stands alone (see DESIGN.md Open-question
// decisions).
func (c *Config) BaseURLs() (publicBase, wsBase string) {
	publicBase = c.PublicBaseURL
	if publicBase == "" {
		publicBase = c.APIBaseURL
	}
	return strings.TrimRight(publicBase, "/"), strings.TrimRight(c.WSBaseURL, "/")
}
