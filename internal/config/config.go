// Package config defines the service configuration and its file-backed
// persistence.
//
// Config describes the desired shape of the process: where to listen,
// which store backend to use, and the search and maintenance tuning.
// It is loaded once at startup; the process does not watch for live
// changes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// StoreBackend selects the document store implementation.
type StoreBackend string

const (
	BackendMemory    StoreBackend = "memory"
	BackendFirestore StoreBackend = "firestore"
)

// Config is the full service configuration.
type Config struct {
	Listen string      `json:"listen"`
	Auth   AuthConfig  `json:"auth"`
	Store  StoreConfig `json:"store"`
	Search Search      `json:"search"`
	Sweep  Sweep       `json:"sweep"`
	Rate   Rate        `json:"rate"`
}

// AuthConfig configures the rebuild entry point's token service.
type AuthConfig struct {
	Secret        string   `json:"secret"`
	TokenLifetime Duration `json:"tokenLifetime"`
}

// StoreConfig selects and parameterizes the document store.
type StoreConfig struct {
	Backend         StoreBackend `json:"backend"`
	ProjectID       string       `json:"projectId,omitempty"`
	CredentialsFile string       `json:"credentialsFile,omitempty"`
}

// Search tunes the query planner.
type Search struct {
	PageSize  int `json:"pageSize"`
	CacheSize int `json:"cacheSize"`
}

// Sweep configures the periodic index-convergence rebuild. An empty
// schedule disables it.
type Sweep struct {
	Schedule string `json:"schedule,omitempty"` // cron expression
}

// Rate bounds requests per client address.
type Rate struct {
	PerSecond float64 `json:"perSecond"`
	Burst     int     `json:"burst"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen: ":7040",
		Auth: AuthConfig{
			TokenLifetime: Duration(12 * time.Hour),
		},
		Store:  StoreConfig{Backend: BackendMemory},
		Search: Search{PageSize: 20, CacheSize: 256},
		Rate:   Rate{PerSecond: 20, Burst: 40},
	}
}

// Validate checks semantic consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFirestore:
		if c.Store.ProjectID == "" {
			return errors.New("firestore backend requires store.projectId")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Search.PageSize < 0 || c.Search.CacheSize < 0 {
		return errors.New("search tuning must not be negative")
	}
	return nil
}

// Load reads configuration from path. A missing file returns the
// defaults (bootstrap signal), not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to path atomically (write-then-rename).
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Duration marshals as a human-readable string ("12h", "30s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
