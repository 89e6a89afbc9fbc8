package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repolens/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "repolens", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.MetricInterval)
	require.NoError(t, cfg.Validate())
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "lens",
		Endpoint:        "https://otel.example.com:4318",
		Protocol:        ProtocolHTTP,
		SampleRate:      0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "lens", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.False(t, cfg.Insecure)
	require.NoError(t, cfg.Validate())

	defaults := FromConfig(config.ObservabilityConfig{}, "")
	assert.Equal(t, "repolens", defaults.ServiceName)
	assert.Equal(t, "dev", defaults.ServiceVersion)
	assert.Equal(t, ProtocolGRPC, defaults.Protocol)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "disabled skips validation",
			modify: func(c *Config) { c.Endpoint = "" },
		},
		{
			name:   "enabled local insecure",
			modify: func(c *Config) { c.Enabled = true },
		},
		{
			name:    "missing endpoint",
			modify:  func(c *Config) { c.Enabled = true; c.Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "missing service name",
			modify:  func(c *Config) { c.Enabled = true; c.ServiceName = "" },
			wantErr: "service_name is required",
		},
		{
			name:    "unknown protocol",
			modify:  func(c *Config) { c.Enabled = true; c.Protocol = "udp" },
			wantErr: "unsupported protocol",
		},
		{
			name: "insecure remote endpoint",
			modify: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "otel.example.com:4317"
			},
			wantErr: "insecure connections to remote endpoints",
		},
		{
			name: "secure remote endpoint",
			modify: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "otel.example.com:4317"
				c.Insecure = false
			},
		},
		{
			name:    "sample rate above one",
			modify:  func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 },
			wantErr: "sample rate",
		},
		{
			name:    "zero metric interval",
			modify:  func(c *Config) { c.Enabled = true; c.MetricInterval = 0 },
			wantErr: "metric interval",
		},
		{
			name:    "zero shutdown timeout",
			modify:  func(c *Config) { c.Enabled = true; c.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.2:4317", true},
		{"[::1]:4317", true},
		{"http://localhost:4318", true},
		{"localhost", true},
		{"otel.example.com:4317", false},
		{"10.0.0.5:4317", false},
		{"https://otel.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.want, cfg.isLocalEndpoint())
		})
	}
}
