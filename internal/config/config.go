// Package config holds the YAML-loadable engine configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config selects the database file and durability behavior.
type Config struct {
	// Path is the database file. The WAL lives next to it at Path + ".wal".
	Path string `yaml:"path"`

	// SyncWrites fsyncs after every page flush. Turning it off defers the
	// sync to commit time and the checkpoint schedule.
	SyncWrites bool `yaml:"sync_writes"`

	// CheckpointSpec is an optional five-field CRON expression for
	// background checkpoints. Empty disables the scheduler.
	CheckpointSpec string `yaml:"checkpoint_spec"`

	// Format is the default repl output format (table, csv, json, yaml).
	Format string `yaml:"format"`
}

// Default returns the durable zero-configuration setup.
func Default() *Config {
	return &Config{
		Path:       "quill.db",
		SyncWrites: true,
		Format:     "table",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
