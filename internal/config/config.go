// Package config provides configuration loading for lessond.
//
// Configuration is loaded from a YAML file with LESSOND_-prefixed
// environment variable overrides and hardcoded defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nivantalabs/lessond/internal/embeddings"
	"github.com/nivantalabs/lessond/internal/remotestore"
	"github.com/nivantalabs/lessond/internal/scoring"
)

// Config holds the complete lessond configuration.
type Config struct {
	Local      LocalConfig               `koanf:"local"`
	Remote     remotestore.Config        `koanf:"remote"`
	Embeddings embeddings.ProviderConfig `koanf:"embeddings"`
	Scoring    scoring.Weights           `koanf:"scoring"`
	Retrieval  RetrievalConfig           `koanf:"retrieval"`
	Logging    LoggingConfig             `koanf:"logging"`
}

// LocalConfig holds local lesson corpus configuration.
type LocalConfig struct {
	// Path is the lessons JSON file.
	Path string `koanf:"path"`

	// Watch reloads the corpus when the file changes on disk.
	Watch bool `koanf:"watch"`
}

// RetrievalConfig holds retrieval pipeline configuration.
type RetrievalConfig struct {
	// Timeout bounds one whole retrieval fan-out.
	Timeout time.Duration `koanf:"timeout"`

	// Limit is the default result cap when the caller does not set one.
	Limit int `koanf:"limit"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".config", "lessond")

	// Local corpus defaults
	if cfg.Local.Path == "" {
		cfg.Local.Path = filepath.Join(dataDir, "lessons.json")
	}

	// Remote store defaults (chromem is default - embedded, no external deps)
	if cfg.Remote.Provider == "" {
		cfg.Remote.Provider = "chromem"
	}
	cfg.Remote.Qdrant.ApplyDefaults()
	if cfg.Remote.Chromem.Path == "" {
		cfg.Remote.Chromem.Path = filepath.Join(dataDir, "remote")
	}
	if cfg.Remote.Chromem.Collection == "" {
		cfg.Remote.Chromem.Collection = "lessons"
	}

	// Embeddings defaults
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "tei"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	// Scoring defaults apply per field: a config that tunes one weight must
	// not zero out the others.
	cfg.Scoring = cfg.Scoring.WithDefaults()

	// Retrieval defaults
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 5 * time.Second
	}
	if cfg.Retrieval.Limit == 0 {
		cfg.Retrieval.Limit = 15
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Local.Path == "" {
		return errors.New("local corpus path must not be empty")
	}

	switch c.Remote.Provider {
	case "qdrant":
		if err := c.Remote.Qdrant.Validate(); err != nil {
			return fmt.Errorf("qdrant config invalid: %w", err)
		}
	case "chromem":
		if c.Remote.Chromem.Path == "" {
			return errors.New("chromem path must not be empty")
		}
	case "none":
	default:
		return fmt.Errorf("unknown remote provider: %q", c.Remote.Provider)
	}

	switch c.Embeddings.Provider {
	case "tei", "openai", "fastembed", "none":
	default:
		return fmt.Errorf("unknown embeddings provider: %q", c.Embeddings.Provider)
	}

	if c.Retrieval.Timeout <= 0 {
		return errors.New("retrieval timeout must be positive")
	}
	if c.Retrieval.Limit < 1 {
		return errors.New("retrieval limit must be at least 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}

	return nil
}
