// Package api provides the HTTP server for WildWatch. The JSON and SSE
// endpoints live in the v2 subpackage.
package api

import (
	"fmt"
	"time"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // host:port, ":8080" binds all interfaces

	// Shared device secret; empty rejects every authenticated route
	APIKey string

	AllowedOrigins []string

	// Timeouts. WriteTimeout stays zero so SSE streams are not cut off.
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string  // e.g. "10M"
	RateLimit float64 // requests per second per client, 0 disables

	// Live stream
	KeepAlive    time.Duration
	ClientBuffer int
	MaxClients   int

	MetricsEnabled bool
	MetricsPath    string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "10M",
		RateLimit:       20,
		KeepAlive:       DefaultKeepAlive,
		ClientBuffer:    32,
		MaxClients:      100,
		MetricsEnabled:  true,
		MetricsPath:     "/metrics",
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}

	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	cfg.APIKey = settings.WebServer.APIKey
	if settings.WebServer.BodyLimit != "" {
		cfg.BodyLimit = settings.WebServer.BodyLimit
	}
	cfg.RateLimit = settings.WebServer.RateLimit

	if settings.Broadcast.KeepAlive > 0 {
		cfg.KeepAlive = settings.Broadcast.KeepAlive
	}
	if settings.Broadcast.ClientBuffer > 0 {
		cfg.ClientBuffer = settings.Broadcast.ClientBuffer
	}
	cfg.MaxClients = settings.Broadcast.MaxClients

	cfg.MetricsEnabled = settings.Metrics.Enabled
	if settings.Metrics.Path != "" {
		cfg.MetricsPath = settings.Metrics.Path
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.KeepAlive <= 0 {
		return fmt.Errorf("keepalive interval must be positive")
	}
	return nil
}

// Address returns the address the server listens on.
func (c *Config) Address() string {
	return c.Listen
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	auth := "disabled"
	if c.APIKey != "" {
		auth = "api-key"
	}
	return fmt.Sprintf("Server Config: address=%s, auth=%s, ratelimit=%g/s",
		c.Address(), auth, c.RateLimit)
}
