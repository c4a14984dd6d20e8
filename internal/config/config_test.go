package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7040" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, ":7040")
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Search.PageSize != 20 {
		t.Errorf("PageSize = %d, want 20", cfg.Search.PageSize)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prospect.json")

	cfg := Default()
	cfg.Listen = ":9001"
	cfg.Auth.Secret = "s3cret"
	cfg.Auth.TokenLifetime = Duration(30 * time.Minute)
	cfg.Store = StoreConfig{Backend: BackendFirestore, ProjectID: "crm-prod"}
	cfg.Sweep.Schedule = "0 3 * * *"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Listen != ":9001" {
		t.Errorf("Listen = %q, want %q", got.Listen, ":9001")
	}
	if got.Auth.Secret != "s3cret" {
		t.Errorf("Secret = %q", got.Auth.Secret)
	}
	if time.Duration(got.Auth.TokenLifetime) != 30*time.Minute {
		t.Errorf("TokenLifetime = %v, want 30m", time.Duration(got.Auth.TokenLifetime))
	}
	if got.Store.ProjectID != "crm-prod" {
		t.Errorf("ProjectID = %q", got.Store.ProjectID)
	}
	if got.Sweep.Schedule != "0 3 * * *" {
		t.Errorf("Schedule = %q", got.Sweep.Schedule)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"firestore without project", func(c *Config) {
			c.Store.Backend = BackendFirestore
		}, true},
		{"firestore with project", func(c *Config) {
			c.Store = StoreConfig{Backend: BackendFirestore, ProjectID: "p"}
		}, false},
		{"unknown backend", func(c *Config) {
			c.Store.Backend = "etcd"
		}, true},
		{"negative page size", func(c *Config) {
			c.Search.PageSize = -1
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
