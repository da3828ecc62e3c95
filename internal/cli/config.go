// Package cli carries configuration shared by the pagevfs command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openquran/pagevfs/pagevfs"
)

// Config is the CLI configuration from config.yaml. Zero-value fields
// fall back to the library defaults, and flags override both.
type Config struct {
	BaseURL       string `yaml:"base_url"`              // hosting root, e.g. https://cdn.example.com/quran
	Index         string `yaml:"index"`                 // index document path, default: "index.json"
	PageSize      int    `yaml:"page_size"`             // default: 4096
	CacheBytes    int64  `yaml:"cache_bytes"`           // default: 32 MiB
	FetchTimeout  int    `yaml:"fetch_timeout_seconds"` // per-attempt bound, default: 30
	RetryAttempts uint   `yaml:"retry_attempts"`        // default: 3
	UserAgent     string `yaml:"user_agent"`            // default: library user agent
	Logging       string `yaml:"logging"`               // logging level: none, debug, info, warn (case insensitive)
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Index == "" {
		cfg.Index = pagevfs.DefaultIndexPath
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = pagevfs.DefaultPageSize
	}
	if cfg.CacheBytes == 0 {
		cfg.CacheBytes = pagevfs.DefaultCacheBytes
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = int(pagevfs.DefaultFetchTimeout / time.Second)
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = pagevfs.DefaultRetryAttempts
	}
}

// LoggingEnabled reports whether logging is on (any level other than
// "none" or empty).
func (cfg *Config) LoggingEnabled() bool {
	level := strings.ToLower(cfg.Logging)
	return level != "" && level != "none"
}

// LogLevel returns the normalized (lowercase) logging level.
func (cfg *Config) LogLevel() string {
	return strings.ToLower(cfg.Logging)
}

// Options converts the config into client options. BaseURL is consumed
// separately by the host constructor.
func (cfg *Config) Options() []pagevfs.Option {
	opts := []pagevfs.Option{
		pagevfs.WithIndexPath(cfg.Index),
		pagevfs.WithPageSize(cfg.PageSize),
		pagevfs.WithCacheBytes(cfg.CacheBytes),
		pagevfs.WithFetchTimeout(time.Duration(cfg.FetchTimeout) * time.Second),
		pagevfs.WithRetryAttempts(cfg.RetryAttempts),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, pagevfs.WithUserAgent(cfg.UserAgent))
	}
	return opts
}

// DefaultPath returns the config file location. PAGEVFS_CONFIG_DIR
// overrides the directory (used by tests to avoid touching the real
// home directory).
func DefaultPath() string {
	if dir := os.Getenv("PAGEVFS_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pagevfs", "config.yaml")
}

// Load reads the config from path. A missing or empty path yields a
// config with defaults applied.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
