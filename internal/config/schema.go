package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version  int            `yaml:"version"`
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Poll     PollConfig     `yaml:"poll"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Secrets  SecretsConfig  `yaml:"secrets"`
}

// DatabaseConfig configures the inventory cache
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PollConfig configures the refresh coordinator
type PollConfig struct {
	// Interval between fleet refresh cycles
	Interval Duration `yaml:"interval,omitempty"`

	// Timeout bounds one hub's whole fetch
	Timeout Duration `yaml:"timeout,omitempty"`

	// PacketTimeout and Retries apply per SNMP request
	PacketTimeout Duration `yaml:"packet_timeout,omitempty"`
	Retries       int      `yaml:"retries,omitempty"`

	// Workers caps concurrent hub refreshes per cycle (max 8)
	Workers int `yaml:"workers,omitempty"`
}

// SweepConfig configures subnet discovery
type SweepConfig struct {
	// Community used to probe swept hosts
	Community string `yaml:"community,omitempty"`

	// Probes caps concurrent SNMP probes during a sweep
	Probes int `yaml:"probes,omitempty"`
}

// SecretsConfig configures community sealing
type SecretsConfig struct {
	// KeyPath is the sealing key file, created on first run
	KeyPath string `yaml:"key_path,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML parses duration strings like "30s" or "5m"
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration converts to time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
