package config

import (
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.App.Port != "3000" {
		t.Errorf("default port = %s", cfg.App.Port)
	}
	if cfg.Device.Transport != "simulated" {
		t.Errorf("default transport = %s", cfg.Device.Transport)
	}
	if cfg.Device.ChunkDeadlineMS != 5000 {
		t.Errorf("default chunk deadline = %d ms", cfg.Device.ChunkDeadlineMS)
	}
	if cfg.Processing.MaxAttempts != 3 {
		t.Errorf("default max attempts = %d", cfg.Processing.MaxAttempts)
	}
	if got := cfg.Processing.Timeout().Seconds(); got != 300 {
		t.Errorf("default processing timeout = %.0fs", got)
	}
	if cfg.Auth.Enabled {
		t.Error("auth must be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEVICE_TRANSPORT", "serial")
	t.Setenv("DEVICE_SERIAL_PATHS", "/dev/ttyACM3, /dev/ttyUSB1")
	t.Setenv("STEPCOUNT_URL", "http://analysis:8000")
	t.Setenv("STEPCOUNT_MAX_ATTEMPTS", "5")
	t.Setenv("AUTH_ENABLED", "true")

	cfg := Load()

	if cfg.Device.Transport != "serial" {
		t.Errorf("transport = %s", cfg.Device.Transport)
	}
	want := []string{"/dev/ttyACM3", "/dev/ttyUSB1"}
	if !reflect.DeepEqual(cfg.Device.SerialPaths, want) {
		t.Errorf("serial paths = %v, want %v", cfg.Device.SerialPaths, want)
	}
	if cfg.Processing.BaseURL != "http://analysis:8000" {
		t.Errorf("analysis url = %s", cfg.Processing.BaseURL)
	}
	if cfg.Processing.MaxAttempts != 5 {
		t.Errorf("max attempts = %d", cfg.Processing.MaxAttempts)
	}
	if !cfg.Auth.Enabled {
		t.Error("auth must be enabled")
	}
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("DEVICE_CHUNK_SIZE", "lots")
	t.Setenv("AUTH_ENABLED", "maybe")

	cfg := Load()
	if cfg.Device.ChunkSize != 64*1024 {
		t.Errorf("chunk size = %d, want the default", cfg.Device.ChunkSize)
	}
	if cfg.Auth.Enabled {
		t.Error("unparseable bool must fall back to default")
	}
}
