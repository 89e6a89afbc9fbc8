package qdrant

import (
	"errors"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

const (
	defaultHost           = "localhost"
	defaultGRPCPort       = 6334
	defaultMaxMessageSize = 50 << 20
	defaultDialTimeout    = 5 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBackoff   = time.Second
)

// ClientConfig configures the gRPC connection. Zero values take the
// defaults listed on each field.
type ClientConfig struct {
	Host string // localhost
	Port int    // 6334, the gRPC port rather than REST

	UseTLS bool
	APIKey string

	MaxMessageSize int           // 50MB, both directions
	DialTimeout    time.Duration // 5s, bounds the startup health check
	RequestTimeout time.Duration // 30s, per call including retries

	RetryAttempts int           // 3 retries after the first try
	RetryBackoff  time.Duration // 1s, doubled per retry

	Distance qdrant.Distance // cosine
}

// DefaultClientConfig returns defaults for a local Qdrant.
func DefaultClientConfig() *ClientConfig {
	cfg := &ClientConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *ClientConfig) ApplyDefaults() {
	setDefault(&c.Host, defaultHost)
	setDefault(&c.Port, defaultGRPCPort)
	setDefault(&c.MaxMessageSize, defaultMaxMessageSize)
	setDefault(&c.DialTimeout, defaultDialTimeout)
	setDefault(&c.RequestTimeout, defaultRequestTimeout)
	setDefault(&c.RetryAttempts, defaultRetryAttempts)
	setDefault(&c.RetryBackoff, defaultRetryBackoff)
	setDefault(&c.Distance, qdrant.Distance_Cosine)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	case c.MaxMessageSize < 1:
		return fmt.Errorf("invalid max message size: %d (must be > 0)", c.MaxMessageSize)
	case c.RetryAttempts < 0:
		return fmt.Errorf("invalid retry attempts: %d", c.RetryAttempts)
	}
	return nil
}
