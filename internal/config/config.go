// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// MetaDir is the per-project metadata directory. It is never scanned,
	// tracked, or touched by a restore.
	MetaDir    = ".pebble"
	DBDir      = "db"
	ObjectsDir = "objects"

	DefaultHomeDir = ".pebbles"
)

type Config struct {
	// Home holds the central registry and the default config file.
	Home string `json:"home" yaml:"home"`

	Environment string `json:"environment" yaml:"environment"` // development, production
	LogLevel    string `json:"log_level" yaml:"log_level"`     // debug, info, warn, error

	// Hash is the fingerprint algorithm given to newly initialized projects.
	Hash string `json:"hash" yaml:"hash"` // sha256, xxh3

	Storage Storage `json:"storage" yaml:"storage"`
}

type Storage struct {
	CacheSize   int         `json:"cache_size" yaml:"cache_size"`
	Compression Compression `json:"compression" yaml:"compression"`
}

type Compression struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	MinSize int  `json:"min_size" yaml:"min_size"`
	Level   int  `json:"level" yaml:"level"`
}

func Default() *Config {
	return &Config{
		Home:        DefaultHome(),
		Environment: "production",
		LogLevel:    "warn",
		Hash:        "sha256",
		Storage: Storage{
			CacheSize: 1000,
			Compression: Compression{
				Enabled: true,
				MinSize: 1024,
				Level:   2,
			},
		},
	}
}

// DefaultHome resolves the registry directory from the environment, falling
// back to ~/.pebbles.
func DefaultHome() string {
	if home := os.Getenv("PEBBLE_HOME"); home != "" {
		return home
	}
	if home := os.Getenv("MAIN_PEBBLES_PATH"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return DefaultHomeDir
	}
	return filepath.Join(dir, DefaultHomeDir)
}

// Path returns the config file location inside home. PEBBLE_ENV selects
// config.<env>.json over config.json.
func Path(home string) string {
	if env := os.Getenv("PEBBLE_ENV"); env != "" {
		return filepath.Join(home, fmt.Sprintf("config.%s.json", env))
	}
	return filepath.Join(home, "config.json")
}

// Load reads the config at path, or the default location when path is empty.
// A missing file is not an error. Files ending in .yaml or .yml are decoded as
// YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		path = Path(config.Home)
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := decode(path, data, config); err != nil {
			return nil, fmt.Errorf("decoding config %s: %w", path, err)
		}
	}

	applyEnv(config)
	return config, config.validate()
}

func decode(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

func applyEnv(config *Config) {
	if home := os.Getenv("PEBBLE_HOME"); home != "" {
		config.Home = home
	} else if home := os.Getenv("MAIN_PEBBLES_PATH"); home != "" {
		config.Home = home
	}
	if level := os.Getenv("PEBBLE_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if env := os.Getenv("PEBBLE_ENV"); env != "" {
		config.Environment = env
	}
}

func (c *Config) validate() error {
	if c.Home == "" {
		return fmt.Errorf("home directory is required")
	}
	if c.Storage.CacheSize <= 0 {
		return fmt.Errorf("storage.cache_size must be positive, got %d", c.Storage.CacheSize)
	}
	if c.Storage.Compression.Level < 1 || c.Storage.Compression.Level > 4 {
		return fmt.Errorf("storage.compression.level must be between 1 and 4, got %d", c.Storage.Compression.Level)
	}
	return nil
}
