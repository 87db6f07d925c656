package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for an epiring node.
type Config struct {
	// Node identification
	Host string
	Port int

	// HTTP debug API
	HTTPPort int

	// Bootstrap
	Peers         []string // Static peer addresses (host:port)
	EtcdEndpoints []string // Optional etcd discovery endpoints

	// Lookup parameters
	RedundantNodes int           // Redundancy/fan-out factor per lookup
	PerHopTimeout  time.Duration // Timeout for a single FindNode exchange
	RoutingVariant string        // iterative, exclusive-iterative
	CacheSize      int           // Bound on the soft-state neighbor cache

	// Logging
	LogLevel  string // trace, debug, info, warn, error
	LogFormat string // json, console
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:           "127.0.0.1",
		Port:           8440,
		HTTPPort:       8080,
		RedundantNodes: 3,
		PerHopTimeout:  2 * time.Second,
		RoutingVariant: "iterative",
		CacheSize:      128,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.RedundantNodes < 1 {
		return fmt.Errorf("redundant nodes must be at least 1, got %d", c.RedundantNodes)
	}
	if c.PerHopTimeout <= 0 {
		return fmt.Errorf("per-hop timeout must be positive, got %s", c.PerHopTimeout)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache size must be at least 1, got %d", c.CacheSize)
	}
	switch c.RoutingVariant {
	case "", "iterative", "exclusive-iterative":
	default:
		return fmt.Errorf("unknown routing variant %q", c.RoutingVariant)
	}
	return nil
}
