package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want :9090", cfg.MetricsAddr)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults plus path", func(c *Config) { c.ConfigPath = "plan.yaml" }, false},
		{"missing config path", func(c *Config) {}, true},
		{"bad log format", func(c *Config) { c.ConfigPath = "p.yaml"; c.LogFormat = "xml" }, true},
		{"bad metrics addr", func(c *Config) { c.ConfigPath = "p.yaml"; c.MetricsAddr = "not-an-addr" }, true},
		{"zero shutdown timeout", func(c *Config) { c.ConfigPath = "p.yaml"; c.ShutdownTimeout = 0 }, true},
		{"empty metrics addr is allowed (metrics disabled)", func(c *Config) {
			c.ConfigPath = "p.yaml"
			c.MetricsAddr = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
