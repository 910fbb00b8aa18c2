package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_WritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr := loadConfig(path)

	cfg := mgr.Get()
	if cfg.StreamingPort != 8080 {
		t.Fatalf("expected default streaming_port 8080, got %d", cfg.StreamingPort)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file persisted at %s: %v", path, err)
	}
}
