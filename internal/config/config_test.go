package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotNil(t, cfg)
	assert.Equal(t, 3, cfg.RedundantNodes)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	valid := func(mutate func(*Config)) *Config {
		cfg := DefaultConfig()
		mutate(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name:    "invalid port",
			config:  valid(func(c *Config) { c.Port = 0 }),
			wantErr: true,
		},
		{
			name:    "port too large",
			config:  valid(func(c *Config) { c.Port = 70000 }),
			wantErr: true,
		},
		{
			name:    "invalid HTTP port",
			config:  valid(func(c *Config) { c.HTTPPort = -1 }),
			wantErr: true,
		},
		{
			name:    "zero redundant nodes",
			config:  valid(func(c *Config) { c.RedundantNodes = 0 }),
			wantErr: true,
		},
		{
			name:    "negative per-hop timeout",
			config:  valid(func(c *Config) { c.PerHopTimeout = -time.Second }),
			wantErr: true,
		},
		{
			name:    "zero cache size",
			config:  valid(func(c *Config) { c.CacheSize = 0 }),
			wantErr: true,
		},
		{
			name:    "unknown routing variant",
			config:  valid(func(c *Config) { c.RoutingVariant = "recursive" }),
			wantErr: true,
		},
		{
			name:    "exclusive variant accepted",
			config:  valid(func(c *Config) { c.RoutingVariant = "exclusive-iterative" }),
			wantErr: false,
		},
		{
			name:    "empty variant falls back to default",
			config:  valid(func(c *Config) { c.RoutingVariant = "" }),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
