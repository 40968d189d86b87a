// Package config loads Omni-Cortex configuration from
// <project>/.omni-cortex/config.yaml and applies environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Dir is the per-project state directory name.
const Dir = ".omni-cortex"

// Environment variables recognized by the core.
const (
	// EnvHome overrides the directory containing the global catalog.
	EnvHome = "OMNI_CORTEX_HOME"
	// EnvEmbed selects the embedder: "local" or "off".
	EnvEmbed = "OMNI_CORTEX_EMBED"
)

// Config holds all Omni-Cortex configuration.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

// EmbeddingConfig configures the local embedder.
type EmbeddingConfig struct {
	// Mode: "local" (Ollama) or "off" (no vectors).
	Mode string `yaml:"mode"`
	// Endpoint of the local embedding server.
	Endpoint string `yaml:"endpoint"`
	// Model name served by the endpoint.
	Model string `yaml:"model"`
	// Dimension of the vectors the model produces.
	Dimension int `yaml:"dimension"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// BroadcastConfig controls the change broadcaster.
type BroadcastConfig struct {
	// QueueSize is the per-subscriber event queue bound.
	QueueSize int `yaml:"queue_size"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Embedding: EmbeddingConfig{
			Mode:      "local",
			Endpoint:  "http://localhost:11434",
			Model:     "all-minilm",
			Dimension: 384,
		},
		Broadcast: BroadcastConfig{QueueSize: 256},
	}
}

// Load reads the project config file, falling back to defaults when it does
// not exist, then applies environment overrides.
func Load(projectPath string) (Config, error) {
	cfg := Default()

	path := filepath.Join(projectPath, Dir, "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// applyEnv overlays recognized environment variables.
func (c *Config) applyEnv() {
	if mode := os.Getenv(EnvEmbed); mode != "" {
		c.Embedding.Mode = mode
	}
}

// fillDefaults backfills zero values left by a partial config file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Embedding.Mode == "" {
		c.Embedding.Mode = def.Embedding.Mode
	}
	if c.Embedding.Endpoint == "" {
		c.Embedding.Endpoint = def.Embedding.Endpoint
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = def.Embedding.Model
	}
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = def.Embedding.Dimension
	}
	if c.Broadcast.QueueSize <= 0 {
		c.Broadcast.QueueSize = def.Broadcast.QueueSize
	}
}

// GlobalDir returns the directory holding the global catalog, honoring
// OMNI_CORTEX_HOME.
func GlobalDir() (string, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, Dir), nil
}
