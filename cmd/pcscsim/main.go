// Command pcscsim is a simulated PC/SC daemon. It speaks the module channel
// protocol as newline-delimited JSON on stdin and stdout and logs to stderr,
// so the server can run it as a ProcessBackend.
//
// Usage:
//
//	./pcscsim -poll 100ms -log-level debug
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcscsim"
	"go.uber.org/zap"
)

func main() {
	poll := flag.Duration("poll", 0, "Device poll interval (default 100ms)")
	level := flag.String("log-level", "info", "Log level")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	logger := logging.FromLevel(*level, *dev)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon := pcscsim.New(
		pcscsim.WithLogger(logger.Component("pcscsim")),
		pcscsim.WithPollInterval(*poll),
	)

	logger.Info("simulated daemon starting", zap.Int("pid", os.Getpid()))
	daemon.Serve(ctx, channel.NewStreamTransport(os.Stdin, os.Stdout, os.Stdin))
}
