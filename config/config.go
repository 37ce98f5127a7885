/* SPDX-License-Identifier: MIT */

// Package config loads the on-disk settings for an SSU transport
// instance. SPEC_FULL.md section 10.2 calls for YAML via
// gopkg.in/yaml.v3, matching the rest of the retrieved corpus's
// config-file convention, rather than a flag-parsing CLI (out of
// scope per spec.md section 1).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RouterConfig holds everything Transport's Options needs beyond the
// intro key, which is provisioned separately (spec.md section 3.1
// treats router identity as an external concern).
type RouterConfig struct {
	ListenPort uint16 `yaml:"listen_port"`

	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	FragmentTTL       time.Duration `yaml:"fragment_ttl"`
	AckFlushInterval  time.Duration `yaml:"ack_flush_interval"`
	EstablishTimeout  time.Duration `yaml:"establish_timeout"`
	ClockSkewWindow   time.Duration `yaml:"clock_skew_window"`

	MaxPeerInboundBytes  int `yaml:"max_peer_inbound_bytes"`
	MaxTotalInboundBytes int `yaml:"max_total_inbound_bytes"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration SPEC_FULL.md section 13 settled
// on for every tunable the distilled spec left open.
func Default() RouterConfig {
	return RouterConfig{
		ListenPort:           0,
		InactivityTimeout:    5 * time.Minute,
		FragmentTTL:          10 * time.Second,
		AckFlushInterval:     1 * time.Second,
		EstablishTimeout:     15 * time.Second,
		ClockSkewWindow:      2 * time.Minute,
		MaxPeerInboundBytes:  1 << 20,
		MaxTotalInboundBytes: 32 << 20,
		LogLevel:             "error",
	}
}

// UnmarshalYAML lets duration fields be written as "5m"/"30s" in the
// config file; yaml.v3 has no built-in support for time.Duration, so
// this decodes into a shadow struct with string fields first.
func (c *RouterConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ListenPort uint16 `yaml:"listen_port"`

		InactivityTimeout string `yaml:"inactivity_timeout"`
		FragmentTTL        string `yaml:"fragment_ttl"`
		AckFlushInterval   string `yaml:"ack_flush_interval"`
		EstablishTimeout   string `yaml:"establish_timeout"`
		ClockSkewWindow    string `yaml:"clock_skew_window"`

		MaxPeerInboundBytes  int `yaml:"max_peer_inbound_bytes"`
		MaxTotalInboundBytes int `yaml:"max_total_inbound_bytes"`

		LogLevel string `yaml:"log_level"`
	}
	// Seed defaults for fields the file doesn't set.
	def := Default()
	raw.ListenPort = def.ListenPort
	raw.InactivityTimeout = def.InactivityTimeout.String()
	raw.FragmentTTL = def.FragmentTTL.String()
	raw.AckFlushInterval = def.AckFlushInterval.String()
	raw.EstablishTimeout = def.EstablishTimeout.String()
	raw.ClockSkewWindow = def.ClockSkewWindow.String()
	raw.MaxPeerInboundBytes = def.MaxPeerInboundBytes
	raw.MaxTotalInboundBytes = def.MaxTotalInboundBytes
	raw.LogLevel = def.LogLevel

	if err := value.Decode(&raw); err != nil {
		return err
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"inactivity_timeout", raw.InactivityTimeout, &c.InactivityTimeout},
		{"fragment_ttl", raw.FragmentTTL, &c.FragmentTTL},
		{"ack_flush_interval", raw.AckFlushInterval, &c.AckFlushInterval},
		{"establish_timeout", raw.EstablishTimeout, &c.EstablishTimeout},
		{"clock_skew_window", raw.ClockSkewWindow, &c.ClockSkewWindow},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	c.ListenPort = raw.ListenPort
	c.MaxPeerInboundBytes = raw.MaxPeerInboundBytes
	c.MaxTotalInboundBytes = raw.MaxTotalInboundBytes
	c.LogLevel = raw.LogLevel
	return nil
}

// Load reads and parses a RouterConfig from path, starting from
// Default() so a partial file only overrides what it sets.
func Load(path string) (RouterConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings that would leave the transport unable to
// make progress.
func (c RouterConfig) Validate() error {
	if c.FragmentTTL <= 0 {
		return fmt.Errorf("config: fragment_ttl must be positive")
	}
	if c.AckFlushInterval <= 0 {
		return fmt.Errorf("config: ack_flush_interval must be positive")
	}
	if c.EstablishTimeout <= 0 {
		return fmt.Errorf("config: establish_timeout must be positive")
	}
	if c.MaxPeerInboundBytes <= 0 || c.MaxTotalInboundBytes <= 0 {
		return fmt.Errorf("config: inbound byte caps must be positive")
	}
	if c.MaxPeerInboundBytes > c.MaxTotalInboundBytes {
		return fmt.Errorf("config: max_peer_inbound_bytes cannot exceed max_total_inbound_bytes")
	}
	return nil
}

// LogLevelValue maps LogLevel's string form to ssu's numeric
// LogLevel* constants (silent=0, error=1, info=2, debug=3), defaulting
// to error-only on an unrecognized value rather than failing
// validation over a typo.
func (c RouterConfig) LogLevelValue() int {
	switch c.LogLevel {
	case "debug":
		return 3
	case "info":
		return 2
	case "silent":
		return 0
	default:
		return 1
	}
}
