package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"m3dmanager/host/serial"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{"port": "/dev/ttyACM3"}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Port != "/dev/ttyACM3" {
		t.Errorf("Expected port /dev/ttyACM3, got %s", cfg.Port)
	}
	if cfg.Driver != serial.DriverNative {
		t.Errorf("Expected driver %s, got %s", serial.DriverNative, cfg.Driver)
	}
	if cfg.Baud != 115200 {
		t.Errorf("Expected baud 115200, got %d", cfg.Baud)
	}
	if cfg.ResponseTimeout() != 2*time.Second {
		t.Errorf("Expected response timeout 2s, got %v", cfg.ResponseTimeout())
	}
	if cfg.SwitchTimeout() != 15*time.Second {
		t.Errorf("Expected switch timeout 15s, got %v", cfg.SwitchTimeout())
	}
	if cfg.MaxResends != 5 {
		t.Errorf("Expected max resends 5, got %d", cfg.MaxResends)
	}
	if cfg.ChunkSize != 128 {
		t.Errorf("Expected chunk size 128, got %d", cfg.ChunkSize)
	}
	if cfg.USB.VID != serial.DefaultVID || cfg.USB.PID != serial.DefaultPID {
		t.Errorf("Expected default USB IDs, got %+v", cfg.USB)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{
		"driver": "tarm",
		"max_resends": 0,
		"chunk_size": 64,
		"probe_interval_ms": 100,
		"usb": {"vid": "2341"},
		"debug": true
	}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Driver != serial.DriverTarm {
		t.Errorf("Expected tarm driver, got %s", cfg.Driver)
	}
	if cfg.MaxResends != 0 {
		t.Errorf("Expected explicit 0 max resends to be kept, got %d", cfg.MaxResends)
	}
	if cfg.ChunkSize != 64 {
		t.Errorf("Expected chunk size 64, got %d", cfg.ChunkSize)
	}
	if cfg.ProbeInterval() != 100*time.Millisecond {
		t.Errorf("Expected probe interval 100ms, got %v", cfg.ProbeInterval())
	}
	if cfg.USB.VID != "2341" || cfg.USB.PID != "" {
		t.Errorf("Expected partial USB filter to be kept, got %+v", cfg.USB)
	}
	if !cfg.Debug {
		t.Errorf("Expected debug enabled")
	}

	if cfg.Driver != serial.DriverTarm || cfg.ReadPollMS != 50 {
		t.Errorf("Unexpected serial settings %q %d", cfg.Driver, cfg.ReadPollMS)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []string{
		`{"chunk_size": 1000}`,
		`{"chunk_size": -1}`,
		`{"response_timeout_ms": -5}`,
		`{not json`,
	}

	for _, data := range tests {
		if _, err := LoadConfig([]byte(data)); err == nil {
			t.Errorf("Expected error for %s", data)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m3d.json")
	if err := os.WriteFile(path, []byte(`{"baud": 250000}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Baud != 250000 {
		t.Errorf("Expected baud 250000, got %d", cfg.Baud)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Errorf("Expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
	if cfg.MaxResends != 5 || cfg.ProbeTimeout() != time.Second {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}
