package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/config"
)

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, flagValues{
		port:        "9100",
		level:       "debug",
		backend:     config.BackendProcess,
		backendPath: "./pcscsim",
		backendArgs: "-poll  50ms -dev",
		deviceFile:  "devices.toml",
	})

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.BackendProcess, cfg.Backend.Mode)
	assert.Equal(t, []string{"-poll", "50ms", "-dev"}, cfg.Backend.Args)
	assert.Equal(t, "devices.toml", cfg.Simulation.DeviceFile)
	assert.NoError(t, cfg.Validate())
}

func TestApplyFlagsKeepsEnvironment(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = "8123"
	applyFlags(cfg, flagValues{})

	assert.Equal(t, "8123", cfg.Server.Port)
	assert.Equal(t, config.BackendSimulated, cfg.Backend.Mode)
	assert.False(t, cfg.Logging.Development)
}
