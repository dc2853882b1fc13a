// Package config holds the broker's configuration surface: listener
// ports, storage backend selections, archive-group definitions, and
// the user-management/cluster toggles spec.md §6 names as the core's
// configuration surface (populated, in a full deployment, by an
// external GraphQL/dashboard config UI this repository does not
// implement). Adapted from cmd/goqtt/main.go's inline yaml.Config/
// Server structs and os.ReadFile+yaml.Unmarshal loader, generalized
// into a standalone package with every field the broker core needs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	NodeID    string          `yaml:"node_id" validate:"required"`
	Listeners Listeners       `yaml:"listeners"`
	Storage   Storage         `yaml:"storage"`
	Users     UserManagement  `yaml:"users"`
	Cluster   Cluster         `yaml:"cluster"`
	Archive   []ArchiveGroup  `yaml:"archive_groups" validate:"dive"`
}

// Listeners configures each transport. A Port of 0 disables it, per
// spec.md §6's "each on a configurable port (0 = disabled)".
type Listeners struct {
	TCP        ListenerConfig `yaml:"tcp"`
	TLS        TLSListener    `yaml:"tls"`
	WebSocket  ListenerConfig `yaml:"websocket"`
	MaxPacketSize uint32      `yaml:"max_packet_size"` // default 512 KiB, applied if 0
}

type ListenerConfig struct {
	Port           int   `yaml:"port"`
	MaxConnections int32 `yaml:"max_connections"`
}

type TLSListener struct {
	ListenerConfig `yaml:",inline"`
	CertFile       string `yaml:"cert_file"`
	KeyFile        string `yaml:"key_file"`
}

// Storage selects the backend for each pluggable store. Each field is
// one of "memory", "sqlite", "redis" (retained only), or "kafka"
// (archive only) — validated against the concrete sum type the
// factory in cmd/monstermq resolves at startup (spec.md §9's "dynamic
// runtime class lookup" redesign flag: no reflection-based backend
// resolution, just a switch over these strings).
type Storage struct {
	Sessions  BackendConfig `yaml:"sessions" validate:"required,oneof=memory sqlite"`
	Retained  BackendConfig `yaml:"retained" validate:"required,oneof=memory redis"`
	LastValue BackendConfig `yaml:"last_value" validate:"required,oneof=memory sqlite"`
}

type BackendConfig struct {
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

type UserManagement struct {
	Enabled        bool `yaml:"enabled"`
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

type Cluster struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
}

// ArchiveGroup mirrors spec.md §4.6's (name, enabled, filter-list,
// retained-only flag, last-value sink kind, archive sink kind) tuple.
type ArchiveGroup struct {
	Name         string   `yaml:"name" validate:"required"`
	Enabled      bool     `yaml:"enabled"`
	Filters      []string `yaml:"filters" validate:"required,min=1"`
	RetainedOnly bool     `yaml:"retained_only"`
	LastValue    BackendConfig `yaml:"last_value"`
	Archive      BackendConfig `yaml:"archive" validate:"omitempty,oneof=memory kafka"`
	Retention    string   `yaml:"retention"` // "Ns|Nm|Nh|Nd|Nw|NM|Ny", empty = keep forever
	BatchSize    int      `yaml:"batch_size"`    // default 1000
	BatchWindow  time.Duration `yaml:"batch_window"` // default 5s
}

var validate = validator.New()

// LoadFile reads and validates a YAML config document at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listeners.MaxPacketSize == 0 {
		c.Listeners.MaxPacketSize = 512 * 1024
	}
	for i := range c.Archive {
		if c.Archive[i].BatchSize == 0 {
			c.Archive[i].BatchSize = 1000
		}
		if c.Archive[i].BatchWindow == 0 {
			c.Archive[i].BatchWindow = 5 * time.Second
		}
	}
}
