// Package config provides the configuration surface of the webindex
// engine: the recognized options of spec §6, loadable from YAML/JSON or
// overridden by WEBINDEX_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full set of recognized configuration options.
type Config struct {
	// Bucket is the root prefix for all partitions. Required.
	Bucket string `json:"bucket" yaml:"bucket"`

	// ReadConcurrency bounds outstanding object-store reads per batch.
	ReadConcurrency int `json:"read_concurrency" yaml:"read_concurrency"`

	// WriteConcurrency bounds outstanding object-store writes per batch.
	WriteConcurrency int `json:"write_concurrency" yaml:"write_concurrency"`

	// DefragMinParts is the threshold below which defragmentation is a
	// no-op.
	DefragMinParts int `json:"defrag_min_parts" yaml:"defrag_min_parts"`

	// CalibreStrictDefault holds the configured per-query-kind default
	// for calibre_strict. Nothing in the engine, the HTTP handlers or the
	// CLIs reads it: a query that omits calibre_strict runs non-strict,
	// whatever its kind.
	CalibreStrictDefault CalibreStrictDefaults `json:"calibre_strict_default" yaml:"calibre_strict_default"`

	// Storage selects and configures the object-store backend.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Addr is the listen address of the HTTP server (cmd/webindex).
	Addr string `json:"addr" yaml:"addr"`
}

// CalibreStrictDefaults holds the calibre_strict default per query kind,
// per spec §4.4 ("false for simple, true for time-bounded").
type CalibreStrictDefaults struct {
	Simple      bool `json:"simple" yaml:"simple"`
	TimeBounded bool `json:"time_bounded" yaml:"time_bounded"`
}

// StorageConfig selects the object-store backend.
type StorageConfig struct {
	// Type is "local" or "s3".
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root (for type "local").
	Path string `json:"path" yaml:"path"`

	// S3 configures the S3 backend (for type "s3").
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3-specific connection settings.
type S3Config struct {
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the defaults named in spec §6.
func DefaultConfig() *Config {
	return &Config{
		ReadConcurrency:  32,
		WriteConcurrency: 8,
		DefragMinParts:   2,
		CalibreStrictDefault: CalibreStrictDefaults{
			Simple:      false,
			TimeBounded: true,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "./data/webindex",
		},
		Addr: ":8080",
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.ReadConcurrency <= 0 {
		return fmt.Errorf("read_concurrency must be positive, got %d", c.ReadConcurrency)
	}
	if c.WriteConcurrency <= 0 {
		return fmt.Errorf("write_concurrency must be positive, got %d", c.WriteConcurrency)
	}
	if c.DefragMinParts < 2 {
		return fmt.Errorf("defrag_min_parts must be at least 2, got %d", c.DefragMinParts)
	}
	switch c.Storage.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Bucket == "" {
		return fmt.Errorf("bucket is required when storage type is s3")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, applying
// DefaultConfig as the base before overlaying the file's fields.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays recognized WEBINDEX_* environment variables onto
// cfg. No environment variable is mandated by spec §6; these are the
// engine's own choice of names.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("WEBINDEX_BUCKET"); v != "" {
		cfg.Bucket = v
	}
	if v := os.Getenv("WEBINDEX_READ_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.ReadConcurrency)
	}
	if v := os.Getenv("WEBINDEX_WRITE_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.WriteConcurrency)
	}
	if v := os.Getenv("WEBINDEX_DEFRAG_MIN_PARTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.DefragMinParts)
	}
	if v := os.Getenv("WEBINDEX_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("WEBINDEX_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("WEBINDEX_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("WEBINDEX_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("WEBINDEX_ADDR"); v != "" {
		cfg.Addr = v
	}
}
