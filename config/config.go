// Package config handles girder.toml bridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config controls bridge resource limits and housekeeping. The zero value is
// not usable; start from Default.
type Config struct {
	// PoolSize bounds the async bridge worker pool.
	PoolSize int `toml:"pool_size"`

	// CallTimeout bounds host-originated waits on the VM. Zero means no
	// deadline.
	CallTimeout Duration `toml:"call_timeout"`

	// HandleTTL evicts instance handles not touched within the TTL. Zero
	// disables eviction and ties instance lifetime to the process.
	HandleTTL Duration `toml:"handle_ttl"`

	// SweepInterval is how often the instance sweeper runs when HandleTTL
	// is set.
	SweepInterval Duration `toml:"sweep_interval"`

	// SnapshotPath is the SQLite database used for instance checkpoints.
	// Empty disables persistence.
	SnapshotPath string `toml:"snapshot_path"`

	// WorkingDirectory is handed to the VM for source resolution.
	WorkingDirectory string `toml:"working_directory"`
}

// Duration wraps time.Duration with TOML text parsing ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		PoolSize:         8,
		SweepInterval:    Duration(time.Minute),
		WorkingDirectory: ".",
	}
}

// Load reads girder.toml from dir, applying defaults for absent keys.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "girder.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative")
	}
	if c.HandleTTL < 0 {
		return fmt.Errorf("handle_ttl must not be negative")
	}
	if c.HandleTTL > 0 && c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive when handle_ttl is set")
	}
	return nil
}

// Timeouts returns the call timeout, handle TTL and sweep interval as
// standard durations.
func (c *Config) Timeouts() (callTimeout, handleTTL, sweepInterval time.Duration) {
	return c.CallTimeout.Std(), c.HandleTTL.Std(), c.SweepInterval.Std()
}
