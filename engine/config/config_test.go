package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Frame.MaxConcurrentSubmits != 8 {
		t.Errorf("MaxConcurrentSubmits = %d, want 8", cfg.Frame.MaxConcurrentSubmits)
	}
	if cfg.Frame.MaxTimestampQueries != 100 {
		t.Errorf("MaxTimestampQueries = %d, want 100", cfg.Frame.MaxTimestampQueries)
	}
	if cfg.Frame.FenceTimeout() != 0 {
		t.Errorf("FenceTimeout() = %v, want 0", cfg.Frame.FenceTimeout())
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		check   func(t *testing.T, cfg Config)
		wantErr bool
	}{
		{
			name: "empty keeps defaults",
			doc:  "",
			check: func(t *testing.T, cfg Config) {
				if cfg != Default() {
					t.Errorf("cfg = %+v, want defaults", cfg)
				}
			},
		},
		{
			name: "overrides",
			doc: `
[log]
level = "debug"

[frame]
max_concurrent_submits = 4
max_timestamp_queries = 64
fence_timeout_ms = 250

[profiling]
enabled = false
`,
			check: func(t *testing.T, cfg Config) {
				if cfg.Log.Level != "debug" {
					t.Errorf("Log.Level = %q", cfg.Log.Level)
				}
				if cfg.Frame.MaxConcurrentSubmits != 4 || cfg.Frame.MaxTimestampQueries != 64 {
					t.Errorf("Frame = %+v", cfg.Frame)
				}
				if cfg.Frame.FenceTimeout() != 250*time.Millisecond {
					t.Errorf("FenceTimeout() = %v", cfg.Frame.FenceTimeout())
				}
				if cfg.Profiling.Enabled {
					t.Error("Profiling.Enabled = true, want false")
				}
			},
		},
		{
			name: "clamps out of range",
			doc: `
[frame]
max_concurrent_submits = 1000
max_timestamp_queries = 1
fence_timeout_ms = -5

[sim]
images = 0
timestamp_period_ns = -1.0
`,
			check: func(t *testing.T, cfg Config) {
				if cfg.Frame.MaxConcurrentSubmits != maxConcurrentSubmitsLimit {
					t.Errorf("MaxConcurrentSubmits = %d", cfg.Frame.MaxConcurrentSubmits)
				}
				if cfg.Frame.MaxTimestampQueries != 2 {
					t.Errorf("MaxTimestampQueries = %d", cfg.Frame.MaxTimestampQueries)
				}
				if cfg.Frame.FenceTimeoutMS != 0 {
					t.Errorf("FenceTimeoutMS = %d", cfg.Frame.FenceTimeoutMS)
				}
				if cfg.Sim.Images != 1 || cfg.Sim.TimestampPeriodNS != 1 {
					t.Errorf("Sim = %+v", cfg.Sim)
				}
			},
		},
		{
			name:    "unknown key",
			doc:     "[frame]\nring = 3\n",
			wantErr: true,
		},
		{
			name:    "malformed",
			doc:     "[frame\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestParseUnknownFieldIsStrictError(t *testing.T) {
	_, err := Parse([]byte("[frame]\nring = 3\n"))
	var strict *toml.StrictMissingError
	if !errors.As(err, &strict) {
		t.Fatalf("error = %v, want *toml.StrictMissingError", err)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkframes.toml")
	cfg := Default()
	cfg.Frame.MaxConcurrentSubmits = 3
	cfg.Log.Level = "warn"

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != cfg {
		t.Errorf("Load() = %+v, want %+v", got, cfg)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load() error = %v, want ErrNotExist", err)
	}
}
