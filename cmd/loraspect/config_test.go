package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `log_level: debug
log_format: json
output_format: text
bar_width: 20
cache_size: 0
eager: true
server_address: 0.0.0.0:9000
max_upload_bytes: 1024
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.OutputFormat != "text" {
		t.Fatalf("unexpected strings: %+v", cfg)
	}
	if cfg.BarWidth == nil || *cfg.BarWidth != 20 {
		t.Fatalf("unexpected bar width: %v", cfg.BarWidth)
	}
	if cfg.CacheSize == nil || *cfg.CacheSize != 0 {
		t.Fatalf("explicit zero cache size should be kept: %v", cfg.CacheSize)
	}
	if cfg.Eager == nil || !*cfg.Eager {
		t.Fatalf("unexpected eager: %v", cfg.Eager)
	}
	if cfg.ServerAddress != "0.0.0.0:9000" || cfg.MaxUploadBytes == nil || *cfg.MaxUploadBytes != 1024 {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("missing default config should not fail: %v", err)
	}
	if cfg != (Config{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("missing explicit config should fail")
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bar_width: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if got, want := configPath(), filepath.Join(dir, "loraspect", "config.yaml"); got != want {
		t.Fatalf("configPath: got %q want %q", got, want)
	}
}
