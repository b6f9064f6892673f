// Package config loads the recognized configuration keys of spec §6
// from a YAML file, grounded on roach88-nysm/internal/harness/
// scenario.go's yaml.v3-decoder-over-file-bytes convention.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of options spec §6 recognizes. Zero values
// are replaced by Default's defaults in Load.
type Config struct {
	AllowSchemaIDs        []string      `yaml:"allow_schema_ids"`
	DatabaseURL           string        `yaml:"database_url"`
	DatabaseMaxConns      int           `yaml:"database_max_connections"`
	WorkerPoolSize        int           `yaml:"worker_pool_size"`
	HTTPPort              int           `yaml:"http_port"`
	QUICPort              int           `yaml:"quic_port"`
	PrivateKeyPath        string        `yaml:"private_key_path"`
	MDNS                  bool          `yaml:"mdns"`
	DirectNodeAddresses   []string      `yaml:"direct_node_addresses"`
	AllowPeerIDs          []string      `yaml:"allow_peer_ids"`
	BlockPeerIDs          []string      `yaml:"block_peer_ids"`
	RelayAddresses        []string      `yaml:"relay_addresses"`
	RelayMode             bool          `yaml:"relay_mode"`
	BlobsBasePath         string        `yaml:"blobs_base_path"`

	// ReplicationHeartbeat/ReplicationOneShotTTL are not in spec's
	// recognized key list. They are decoded from the config file, but no
	// other package reads them.
	ReplicationHeartbeat  time.Duration `yaml:"replication_heartbeat"`
	ReplicationOneShotTTL time.Duration `yaml:"replication_one_shot_deadline"`
}

// Default returns the configuration a bare `aquadoggo-node run` starts
// with when no file is given: SQLite under the working directory,
// every schema admitted, a modest worker pool.
func Default() *Config {
	return &Config{
		AllowSchemaIDs:   []string{"*"},
		DatabaseURL:      "sqlite://aquadoggo.db",
		DatabaseMaxConns: 32,
		WorkerPoolSize:   4,
		HTTPPort:         2020,
		QUICPort:         2022,
		PrivateKeyPath:   "aquadoggo-private-key",
		BlobsBasePath:    "blobs",
	}
}

// Load reads and parses a YAML config file at path, applying Default's
// values for any field the file leaves at its zero value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	overlay := *cfg
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&overlay); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&overlay)
	if err := overlay.Validate(); err != nil {
		return nil, err
	}
	return &overlay, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if len(c.AllowSchemaIDs) == 0 {
		c.AllowSchemaIDs = d.AllowSchemaIDs
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = d.DatabaseURL
	}
	if c.DatabaseMaxConns <= 0 {
		c.DatabaseMaxConns = d.DatabaseMaxConns
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = d.WorkerPoolSize
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = d.HTTPPort
	}
	if c.QUICPort == 0 {
		c.QUICPort = d.QUICPort
	}
	if c.PrivateKeyPath == "" {
		c.PrivateKeyPath = d.PrivateKeyPath
	}
	if c.BlobsBasePath == "" {
		c.BlobsBasePath = d.BlobsBasePath
	}
}

// Validate enforces spec §6's "block and allow lists are exclusive"
// for peer ids — a hard configuration error here, unlike
// internal/replication.NewPeerPolicy's runtime preference-order
// fallback, since a config file naming both is much more likely to be
// an authoring mistake than a deliberate choice.
func (c *Config) Validate() error {
	if len(c.AllowPeerIDs) > 0 && len(c.BlockPeerIDs) > 0 {
		return fmt.Errorf("config: allow_peer_ids and block_peer_ids are mutually exclusive")
	}
	return nil
}
