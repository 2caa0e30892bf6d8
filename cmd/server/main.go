package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/api/client"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/server"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "smart card connector:", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags override the environment
	port := flag.String("port", "", "Server port")
	host := flag.String("host", "", "Listen host")
	level := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dev := flag.Bool("dev", false, "Development logging")
	backend := flag.String("backend", "", "Backend mode: simulated or process")
	backendPath := flag.String("backend-path", "", "Backend binary for process mode")
	backendArgs := flag.String("backend-args", "", "Space separated backend arguments")
	deviceFile := flag.String("devices", "", "YAML or TOML file with simulated devices")
	healthcheck := flag.Bool("healthcheck", false, "Probe a running server's /health and exit")
	flag.Parse()

	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	applyFlags(cfg, flagValues{
		port:        *port,
		host:        *host,
		level:       *level,
		dev:         *dev,
		backend:     *backend,
		backendPath: *backendPath,
		backendArgs: *backendArgs,
		deviceFile:  *deviceFile,
	})
	if *healthcheck {
		return probe(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	var devices []usb.Device
	if cfg.Simulation.DeviceFile != "" {
		devices, err = config.LoadDeviceFile(cfg.Simulation.DeviceFile)
		if err != nil {
			return err
		}
		logger.Info("Loaded simulated devices",
			zap.String("file", cfg.Simulation.DeviceFile),
			zap.Int("count", len(devices)),
		)
	}

	srv, err := server.NewServer(cfg,
		server.WithLogger(logger),
		server.WithDevices(devices),
		server.WithVersion(version),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// probe waits for the server's backend to become ready, for container
// health checks.
func probe(cfg *config.Config) error {
	retry := client.DefaultRetryConfig()
	retry.RetryUnavailable = true
	c := client.New("http://"+cfg.Server.Addr(), retry)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: backend %s, %d run(s)\n", health.Status, health.Backend.State, health.Backend.Runs)
	return nil
}

type flagValues struct {
	port, host, level       string
	dev                     bool
	backend, backendPath    string
	backendArgs, deviceFile string
}

func applyFlags(cfg *config.Config, f flagValues) {
	if f.port != "" {
		cfg.Server.Port = f.port
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.level != "" {
		cfg.Logging.Level = f.level
	}
	if f.dev {
		cfg.Logging.Development = true
	}
	if f.backend != "" {
		cfg.Backend.Mode = f.backend
	}
	if f.backendPath != "" {
		cfg.Backend.Path = f.backendPath
	}
	if f.backendArgs != "" {
		cfg.Backend.Args = strings.Fields(f.backendArgs)
	}
	if f.deviceFile != "" {
		cfg.Simulation.DeviceFile = f.deviceFile
	}
}
