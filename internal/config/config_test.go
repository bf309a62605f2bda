package config

import (
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/validationd/internal/checkpoint"
	"github.com/fyrsmithlabs/validationd/internal/gate"
	"github.com/fyrsmithlabs/validationd/internal/pivot"
	"github.com/fyrsmithlabs/validationd/internal/store"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTP:            HTTPConfig{Host: "localhost", Port: 9090, RateLimit: 50, RateBurst: 100},
			ShutdownTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "validationd",
		},
		Storage: store.SQLiteConfig{Path: "/tmp/validationd.db"},
		NATS:    NATSConfig{Enabled: false, URL: "nats://localhost:4222"},
		Executor: ExecutorConfig{
			Mode: "local",
		},
		Gates:      *gate.DefaultPolicy(),
		Limits:     pivot.DefaultCaps(),
		Checkpoint: checkpoint.DefaultConfig(),
		Sweep:      SweepConfig{Interval: time.Minute},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.HTTP.Port = 99999 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
		{
			name: "telemetry without service name",
			mutate: func(c *Config) {
				c.Observability.EnableTelemetry = true
				c.Observability.ServiceName = ""
			},
			wantErr: "service name required",
		},
		{
			name:    "missing storage path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: "storage path",
		},
		{
			name:    "unknown executor mode",
			mutate:  func(c *Config) { c.Executor.Mode = "serverless" },
			wantErr: "unknown executor mode",
		},
		{
			name:    "temporal mode without host",
			mutate:  func(c *Config) { c.Executor.Mode = "temporal" },
			wantErr: "temporal host_port required",
		},
		{
			name: "nats enabled without url",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = ""
			},
			wantErr: "nats url required",
		},
		{
			name:    "negative gate floor",
			mutate:  func(c *Config) { c.Gates.ResonanceFloor = -0.5 },
			wantErr: "gates:",
		},
		{
			name:    "negative pivot cap",
			mutate:  func(c *Config) { c.Limits.Segment = -1 },
			wantErr: "limits:",
		},
		{
			name:    "zero checkpoint expiry",
			mutate:  func(c *Config) { c.Checkpoint.Expiry = 0 },
			wantErr: "checkpoint:",
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.Sweep.Interval = 0 },
			wantErr: "sweep interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("nats-token-123")
	if s.String() != "[REDACTED]" {
		t.Errorf("Secret.String() = %q, want [REDACTED]", s.String())
	}
	if s.Value() != "nats-token-123" {
		t.Errorf("Secret.Value() = %q, want raw value", s.Value())
	}
	if !s.IsSet() {
		t.Error("Secret.IsSet() = false, want true")
	}
}
