// Package config provides configuration loading for validationd.
//
// Configuration is loaded from a YAML file, then overridden by
// environment variables, with hardcoded defaults filling the gaps.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/validationd/internal/checkpoint"
	"github.com/fyrsmithlabs/validationd/internal/executor"
	"github.com/fyrsmithlabs/validationd/internal/gate"
	"github.com/fyrsmithlabs/validationd/internal/pivot"
	"github.com/fyrsmithlabs/validationd/internal/store"
)

// Config holds the complete validationd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Storage       store.SQLiteConfig  `koanf:"storage"`
	NATS          NATSConfig          `koanf:"nats"`
	Executor      ExecutorConfig      `koanf:"executor"`
	Gates         gate.Policy         `koanf:"gates"`
	Limits        pivot.Caps          `koanf:"limits"`
	Checkpoint    checkpoint.Config   `koanf:"checkpoint"`
	Sweep         SweepConfig         `koanf:"sweep"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTP            HTTPConfig    `koanf:"http"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// HTTPConfig holds the HTTP listener settings. It mirrors the server
// package's config so the config tree does not import the server.
type HTTPConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
}

// NATSConfig holds event-stream configuration. When disabled, run
// events are dropped.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Token   Secret `koanf:"token"`
}

// ExecutorConfig selects how phases are executed. Mode "local" runs
// phases in-process; "temporal" dispatches them as workflows.
type ExecutorConfig struct {
	Mode     string                  `koanf:"mode"`
	Temporal executor.TemporalConfig `koanf:"temporal"`
}

// SweepConfig holds the checkpoint sweep loop configuration.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTP.Port < 1 || c.Server.HTTP.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.HTTP.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}

	switch c.Executor.Mode {
	case "local":
	case "temporal":
		if c.Executor.Temporal.HostPort == "" {
			return errors.New("temporal host_port required when executor mode is temporal")
		}
	default:
		return fmt.Errorf("unknown executor mode %q (must be local or temporal)", c.Executor.Mode)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}

	if err := c.Gates.Validate(); err != nil {
		return fmt.Errorf("gates: %w", err)
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("sweep interval must be positive")
	}

	return nil
}
