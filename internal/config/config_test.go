package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfigWhenMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != 5901 {
		t.Errorf("ServerPort = %d, want 5901", cfg.ServerPort)
	}
	if cfg.BitsPerSample != 16 {
		t.Errorf("BitsPerSample = %d, want 16", cfg.BitsPerSample)
	}

	if _, err := os.Stat(filepath.Join(home, hiddenDirName, "config.toml")); err != nil {
		t.Errorf("expected config.toml to be written: %v", err)
	}
}

func TestLoadRepairsInvalidSSDPInterval(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, hiddenDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("ssdp_interval_mins = 0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SSDPIntervalMins != 0.5 {
		t.Errorf("SSDPIntervalMins = %v, want 0.5 (repaired minimum)", cfg.SSDPIntervalMins)
	}
}

func TestLoadWithConfigIDUsesSuffixedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if _, err := Load("_cli"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, hiddenDirName, "config_cli.toml")); err != nil {
		t.Errorf("expected config_cli.toml: %v", err)
	}
}

func TestSaveRoundTrips(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.LastRenderer = "Kitchen Speaker"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load("")
	if err != nil {
		t.Fatalf("Load (reload): %v", err)
	}
	if reloaded.LastRenderer != "Kitchen Speaker" {
		t.Errorf("LastRenderer = %q, want %q", reloaded.LastRenderer, "Kitchen Speaker")
	}
}
