// Package config resolves a node's configuration from an optional YAML file
// overlaid with command-line flags — flags always win, the way the teacher's
// server binary treats every setting as flag-first with no file at all. The
// YAML path is additive: most local runs still need nothing but flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved configuration for one node.
type Config struct {
	NodeID   string            `yaml:"node_id"`
	Addr     string            `yaml:"addr"`       // client wire protocol listener
	ReplAddr string            `yaml:"repl_addr"`  // replication protocol listener
	AdminAddr string           `yaml:"admin_addr"` // Gin admin/health/metrics plane; "" disables it
	DataDir  string            `yaml:"data_dir"`
	Peers    map[string]string `yaml:"peers"` // nodeID -> replication address
	Primary  bool              `yaml:"primary"`

	HeartbeatMillis       int `yaml:"heartbeat_millis"`
	ElectionTimeoutMillis int `yaml:"election_timeout_millis"`
}

// Defaults returns the baseline a node starts from before flags/file are
// applied.
func Defaults() Config {
	return Config{
		NodeID:                "node1",
		Addr:                  ":7070",
		ReplAddr:              ":7071",
		AdminAddr:             "",
		DataDir:               "/tmp/kvnode",
		Peers:                 map[string]string{},
		Primary:               false,
		HeartbeatMillis:       100,
		ElectionTimeoutMillis: 500,
	}
}

// LoadFile reads a YAML config file and overlays it on top of base. Missing
// fields in the file keep base's value.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}

	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	if out.Peers == nil {
		out.Peers = map[string]string{}
	}
	return out, nil
}

// Validate checks invariants that must hold before a node can start.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.HeartbeatMillis <= 0 {
		return fmt.Errorf("heartbeat_millis must be positive")
	}
	if c.ElectionTimeoutMillis <= c.HeartbeatMillis {
		return fmt.Errorf("election_timeout_millis must exceed heartbeat_millis")
	}
	return nil
}
