package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsMatchDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("ALLOWED_ORIGINS", "chrome-extension://a,chrome-extension://b")
	t.Setenv("BACKEND_MODE", BackendProcess)
	t.Setenv("BACKEND_PATH", "/usr/bin/pcscsim")
	t.Setenv("BACKEND_ARGS", "-poll=50ms,-log-level=debug")
	t.Setenv("RESTART_COOLDOWN", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr())
	assert.Equal(t, []string{"chrome-extension://a", "chrome-extension://b"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/usr/bin/pcscsim", cfg.Backend.Path)
	assert.Equal(t, []string{"-poll=50ms", "-log-level=debug"}, cfg.Backend.Args)
	assert.Equal(t, time.Minute, cfg.Restart.Cooldown)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"process without path", func(c *Config) { c.Backend.Mode = BackendProcess }, true},
		{"unknown mode", func(c *Config) { c.Backend.Mode = "hardware" }, true},
		{"zero max faults", func(c *Config) { c.Restart.MaxFaults = 0 }, true},
		{"zero max faults without restarts", func(c *Config) {
			c.Restart.MaxFaults = 0
			c.Restart.Enabled = false
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("BACKEND_MODE", "bogus")
	assert.Equal(t, Default(), LoadOrDefault())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDeviceFile(t *testing.T) {
	want := []usb.Device{
		{ID: 101, Type: usb.GemaltoPcTwinReader, CardType: usb.CosmoID70},
		{ID: 102, Type: usb.DellSmartCardReaderKeyboard},
	}

	yamlPath := writeFile(t, "devices.yaml", `
devices:
  - id: 101
    type: gemaltoPcTwinReader
    cardType: cosmoId70
  - id: 102
    type: dellSmartCardReaderKeyboard
`)
	tomlPath := writeFile(t, "devices.toml", `
[[devices]]
id = 101
type = "gemaltoPcTwinReader"
cardType = "cosmoId70"

[[devices]]
id = 102
type = "dellSmartCardReaderKeyboard"
`)

	for _, path := range []string{yamlPath, tomlPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			devices, err := LoadDeviceFile(path)
			require.NoError(t, err)
			assert.Equal(t, want, devices)
		})
	}
}

func TestLoadDeviceFileErrors(t *testing.T) {
	_, err := LoadDeviceFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadDeviceFile(writeFile(t, "devices.json", `{"devices":[]}`))
	assert.ErrorContains(t, err, "unsupported format")

	_, err = LoadDeviceFile(writeFile(t, "devices.yaml", "devices:\n  - id: 1\n    type: floppy\n"))
	assert.ErrorContains(t, err, "unsupported type")

	_, err = LoadDeviceFile(writeFile(t, "devices.toml", "[[devices]]\nid = 1\ntype = \"gemaltoPcTwinReader\"\n[[devices]]\nid = 1\ntype = \"gemaltoPcTwinReader\"\n"))
	assert.ErrorContains(t, err, "duplicate id")
}

func TestLoadDeviceFileEmpty(t *testing.T) {
	devices, err := LoadDeviceFile(writeFile(t, "devices.yml", "devices: []\n"))
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.NotNil(t, devices)
}
