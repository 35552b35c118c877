package orderflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Concurrency is the number of processor goroutines. Each goroutine
	// owns a disjoint set of stream partitions, so per-order ordering is
	// preserved regardless of this value.
	Concurrency int `yaml:"concurrency"`

	// Partitions is the number of change stream partitions. Events for the
	// same order always hash to the same partition.
	Partitions int `yaml:"partitions"`

	// PollInterval is how long a processor sleeps when its partitions are
	// empty.
	PollInterval time.Duration `yaml:"poll_interval"`

	// StageTimeout bounds a single stage worker invocation. Exceeding it
	// is treated as a transient failure.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// MaxCASRetries bounds the read-decide-write cycle on version
	// conflicts before the handler gives up with ErrConcurrentModification.
	MaxCASRetries int `yaml:"max_cas_retries"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// OrderTTL is how long terminal order records are retained before
	// their ttl epoch expires.
	OrderTTL time.Duration `yaml:"order_ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		Partitions:      16,
		PollInterval:    100 * time.Millisecond,
		StageTimeout:    30 * time.Second,
		MaxCASRetries:   3,
		ShutdownTimeout: 30 * time.Second,
		OrderTTL:        7 * 24 * time.Hour,
	}
}

// LoadConfig reads a YAML configuration file and overlays it on the
// defaults. Missing fields keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("orderflow: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("orderflow: parse config %s: %w", path, err)
	}
	return cfg, nil
}
