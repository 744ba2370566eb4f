package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkframes.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	changes := make(chan Config, 4)
	w, err := Watch(path, func(cfg Config) { changes <- cfg })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	cfg := Default()
	cfg.Profiling.Enabled = false
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changes:
			if !got.Profiling.Enabled {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatcherDoubleClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkframes.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	w, err := Watch(path, func(Config) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}
}
