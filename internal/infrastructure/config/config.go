package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Backend modes
const (
	BackendSimulated = "simulated"
	BackendProcess   = "process"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Backend    BackendConfig
	Simulation SimulationConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	Restart    RestartConfig
}

// ServerConfig holds HTTP and WebSocket server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"127.0.0.1"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	PingInterval    time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
}

// BackendConfig selects and tunes the PC/SC backend module.
type BackendConfig struct {
	// Mode is "simulated" (in-process daemon) or "process" (child binary)
	Mode         string        `envconfig:"BACKEND_MODE" default:"simulated"`
	Path         string        `envconfig:"BACKEND_PATH"`
	Args         []string      `envconfig:"BACKEND_ARGS"`
	GracePeriod  time.Duration `envconfig:"BACKEND_GRACE_PERIOD" default:"2s"`
	StartTimeout time.Duration `envconfig:"BACKEND_START_TIMEOUT" default:"10s"`
	PollInterval time.Duration `envconfig:"BACKEND_POLL_INTERVAL" default:"100ms"`
}

// SimulationConfig controls the simulated USB devices.
type SimulationConfig struct {
	Enabled    bool   `envconfig:"SIMULATION_ENABLED" default:"true"`
	DeviceFile string `envconfig:"SIMULATION_DEVICE_FILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int     `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	FramesPerSecond   float64 `envconfig:"WS_FRAMES_PER_SECOND" default:"200"`
	FrameBurst        int     `envconfig:"WS_FRAME_BURST" default:"400"`
}

// RestartConfig controls automatic backend restarts after a fault.
type RestartConfig struct {
	Enabled bool `envconfig:"RESTART_ENABLED" default:"true"`
	// MaxFaults consecutive short-lived runs open the crash-loop guard
	MaxFaults   uint32        `envconfig:"RESTART_MAX_FAULTS" default:"3"`
	Cooldown    time.Duration `envconfig:"RESTART_COOLDOWN" default:"30s"`
	StableAfter time.Duration `envconfig:"RESTART_STABLE_AFTER" default:"10s"`
	Delay       time.Duration `envconfig:"RESTART_DELAY" default:"500ms"`
}

// Load loads and validates configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads environment variables without validating, for callers that
// apply overrides first.
func Parse() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "127.0.0.1",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			PingInterval:    30 * time.Second,
		},
		Backend: BackendConfig{
			Mode:         BackendSimulated,
			GracePeriod:  2 * time.Second,
			StartTimeout: 10 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Simulation: SimulationConfig{
			Enabled: true,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
			FramesPerSecond:   200,
			FrameBurst:        400,
		},
		Restart: RestartConfig{
			Enabled:     true,
			MaxFaults:   3,
			Cooldown:    30 * time.Second,
			StableAfter: 10 * time.Second,
			Delay:       500 * time.Millisecond,
		},
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case BackendSimulated:
	case BackendProcess:
		if c.Backend.Path == "" {
			return fmt.Errorf("config: BACKEND_PATH is required in %s mode", BackendProcess)
		}
	default:
		return fmt.Errorf("config: unknown backend mode %q", c.Backend.Mode)
	}
	if c.Restart.Enabled && c.Restart.MaxFaults == 0 {
		return fmt.Errorf("config: RESTART_MAX_FAULTS must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}
