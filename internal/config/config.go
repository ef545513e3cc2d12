// Package config provides configuration management for oltscope.
//
// Config file locations (priority order):
//  1. $OLTSCOPE_CONFIG
//  2. ./oltscope.yaml
//  3. ~/.config/oltscope/config.yaml
//  4. /etc/oltscope/config.yaml
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{
		Version:  1,
		Listen:   ":8080",
		Database: DatabaseConfig{Path: "./oltscope.db"},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./oltscope.db"
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = Duration(5 * time.Minute)
	}
	if c.Poll.Timeout <= 0 {
		c.Poll.Timeout = Duration(90 * time.Second)
	}
	if c.Poll.PacketTimeout <= 0 {
		c.Poll.PacketTimeout = Duration(2 * time.Second)
	}
	if c.Poll.Retries <= 0 {
		c.Poll.Retries = 1
	}
	if c.Poll.Workers <= 0 || c.Poll.Workers > 8 {
		c.Poll.Workers = 8
	}
	if c.Sweep.Community == "" {
		c.Sweep.Community = "public"
	}
	if c.Sweep.Probes <= 0 {
		c.Sweep.Probes = 8
	}
	if c.Secrets.KeyPath == "" {
		c.Secrets.KeyPath = "./oltscope.key"
	}
}
