package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigureWithFileWritesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.log")

	f, err := Configure("info", path)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty log file before any log call, got %d bytes", len(data))
	}

	slog.Info("logging configured")
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log file is not a JSON record: %v (%q)", err, data)
	}
	if record["msg"] != "logging configured" {
		t.Errorf("msg = %v, want %q", record["msg"], "logging configured")
	}
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	if _, err := Configure("verbose", ""); err == nil {
		t.Error("Configure with unknown level should fail")
	}
}

func TestConfigureNoneLevelStillSucceeds(t *testing.T) {
	if _, err := Configure("none", ""); err != nil {
		t.Errorf("Configure(none): unexpected error: %v", err)
	}
}
