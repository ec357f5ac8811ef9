package server

import (
	"fmt"
	"time"

	"github.com/kubilitics/kubilitics-insight/internal/config"
)

// Config represents the HTTP server configuration
type Config struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
}

// ConfigFromConfig extracts the server section of the service configuration.
func ConfigFromConfig(cfg *config.Config) *Config {
	return &Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:       time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
