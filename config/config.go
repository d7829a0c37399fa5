// Package config loads the daemon's configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the options the core consumes.
type Config struct {
	// BatchUploadConsolidationDelay is the debounce window before a
	// dirtied current batch is flushed and uploaded.
	BatchUploadConsolidationDelay time.Duration `yaml:"batchUploadConsolidationDelay"`

	// RemoteFileStateCachePath is the root of local cache state; the
	// action queue lives at <root>/ActionQueue and batch files at
	// <root>/batches.
	RemoteFileStateCachePath string `yaml:"remoteFileStateCachePath"`

	// RemoteFileStateCacheDebugLogPath, if set, receives verbose
	// diagnostic output.
	RemoteFileStateCacheDebugLogPath string `yaml:"remoteFileStateCacheDebugLogPath,omitempty"`
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	var c Config

	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// rawConfig mirrors Config with its duration field as the string yaml.v3
// can actually decode ("30s"); UnmarshalYAML converts it with
// time.ParseDuration since time.Duration has no UnmarshalText of its own.
type rawConfig struct {
	BatchUploadConsolidationDelay    string `yaml:"batchUploadConsolidationDelay"`
	RemoteFileStateCachePath         string `yaml:"remoteFileStateCachePath"`
	RemoteFileStateCacheDebugLogPath string `yaml:"remoteFileStateCacheDebugLogPath,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler so BatchUploadConsolidationDelay
// can be written as a duration string in the config file.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.BatchUploadConsolidationDelay != "" {
		d, err := time.ParseDuration(raw.BatchUploadConsolidationDelay)
		if err != nil {
			return errors.Wrap(err, "parsing batchUploadConsolidationDelay")
		}

		c.BatchUploadConsolidationDelay = d
	}

	c.RemoteFileStateCachePath = raw.RemoteFileStateCachePath
	c.RemoteFileStateCacheDebugLogPath = raw.RemoteFileStateCacheDebugLogPath

	return nil
}

// Validate fails fast on programmer/operator errors: missing required
// fields are never recovered from at runtime.
func (c *Config) Validate() error {
	if c.RemoteFileStateCachePath == "" {
		return errors.New("config: remoteFileStateCachePath is required")
	}

	if c.BatchUploadConsolidationDelay <= 0 {
		return errors.New("config: batchUploadConsolidationDelay must be positive")
	}

	return nil
}

// BatchesPath returns the local directory holding batch files.
func (c *Config) BatchesPath() string {
	return filepath.Join(c.RemoteFileStateCachePath, "batches")
}

// ActionQueuePath returns the local directory holding the durable action queue.
func (c *Config) ActionQueuePath() string {
	return filepath.Join(c.RemoteFileStateCachePath, "ActionQueue")
}
