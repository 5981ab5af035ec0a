package config

import (
	"fmt"
	"net"
)

// ValidationError represents a CLI configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the CLI-level Config for errors, independent of the
// YAML test plan it names (internal/plan.Validate covers that).
func Validate(cfg *Config) error {
	if cfg.ConfigPath == "" {
		return ValidationError{Field: "config_path", Message: "path to a YAML test plan is required"}
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return ValidationError{Field: "log_format", Message: fmt.Sprintf("must be \"json\" or \"text\" (got %q)", cfg.LogFormat)}
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return ValidationError{Field: "metrics_addr", Message: err.Error()}
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		return ValidationError{Field: "shutdown_timeout", Message: "must be positive"}
	}

	return nil
}
