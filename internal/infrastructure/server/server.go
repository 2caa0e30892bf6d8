package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/SmartCardConnector/backend/internal/api/http"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/api/middleware"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/api/ws"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/module"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcscsim"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/supervisor"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
)

// Server wraps the HTTP server and the supervised backend
type Server struct {
	router     *gin.Engine
	supervisor *supervisor.Supervisor
	tracer     *tracing.Tracer
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
	httpServer *http.Server
}

// Option configures a Server
type Option func(*options)

type options struct {
	logger  *logging.Logger
	devices []usb.Device
	version string
}

// WithLogger sets the root logger. Defaults to one built from the config.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDevices seeds the simulated device set.
func WithDevices(devices []usb.Device) Option {
	return func(o *options) { o.devices = devices }
}

// WithVersion is reported by the root endpoint.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// NewServer creates a new server instance. The backend is not launched
// until Run or Serve.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing smart card connector",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("backend", cfg.Backend.Mode),
		zap.Bool("simulation", cfg.Simulation.Enabled),
	)

	// Metrics first, everything else reports into them
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	tracer := tracing.New("smart-card-connector", logger.Component("tracing"))

	factory, err := backendFactory(cfg.Backend, logger.Component("backend"))
	if err != nil {
		return nil, err
	}

	supOpts := []supervisor.Option{
		supervisor.WithLogger(logger.Component("supervisor")),
		supervisor.WithMetrics(metrics),
	}
	if cfg.Simulation.Enabled {
		supOpts = append(supOpts, supervisor.WithSimulation(
			usb.NewSimulationHook(o.devices, logger.Component("usb")),
		))
	} else if len(o.devices) > 0 {
		logger.Warn("Simulated devices ignored, simulation is disabled", zap.Int("count", len(o.devices)))
	}
	if cfg.Restart.Enabled {
		supOpts = append(supOpts, supervisor.WithGuard(restartGuard(cfg.Restart, logger)))
	}
	sup := supervisor.New(factory, supervisor.Settings{
		StartTimeout: cfg.Backend.StartTimeout,
		Restart:      cfg.Restart.Enabled,
		StableAfter:  cfg.Restart.StableAfter,
		Delay:        cfg.Restart.Delay,
	}, supOpts...)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.AllowedOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := api.NewHandlers(sup,
		api.WithLogger(logger.Component("http")),
		api.WithMetrics(metrics),
		api.WithVersion(o.version),
	)
	wsHandler := ws.NewHandler(sup, ws.Config{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		PingInterval:    cfg.Server.PingInterval,
		FramesPerSecond: cfg.RateLimit.FramesPerSecond,
		FrameBurst:      cfg.RateLimit.FrameBurst,
	},
		ws.WithLogger(logger.Component("ws")),
		ws.WithMetrics(metrics),
		ws.WithTracer(tracer),
	)

	// Register routes
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Backend module
	router.GET("/v1/module", handlers.ModuleStatus)

	// Simulated USB devices
	router.GET("/v1/simulation/devices", handlers.ListDevices)
	router.PUT("/v1/simulation/devices", handlers.SetDevices)

	// WebSocket, one provider session per connection
	router.GET("/ws", wsHandler.HandleConnection)

	// Metrics endpoints
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	router.GET("/metrics/json", handlers.Metrics)

	logger.Info("Server initialized successfully")

	return &Server{
		router:     router,
		supervisor: sup,
		tracer:     tracer,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
	}, nil
}

func backendFactory(cfg config.BackendConfig, logger *zap.Logger) (supervisor.BackendFactory, error) {
	switch cfg.Mode {
	case config.BackendSimulated:
		return func() module.Backend {
			daemon := pcscsim.New(
				pcscsim.WithPollInterval(cfg.PollInterval),
				pcscsim.WithLogger(logger.Named("pcscsim")),
			)
			return module.NewInProcessBackend(daemon.Serve)
		}, nil
	case config.BackendProcess:
		if cfg.Path == "" {
			return nil, errors.New("process backend requires a path")
		}
		return func() module.Backend {
			return &module.ProcessBackend{
				Path:        cfg.Path,
				Args:        cfg.Args,
				GracePeriod: cfg.GracePeriod,
				Logger:      logger.Named("process"),
			}
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Mode)
	}
}

func restartGuard(cfg config.RestartConfig, logger *logging.Logger) *resilience.Guard {
	log := logger.Component("restart")
	return resilience.New("backend", resilience.Settings{
		Cooldown: cfg.Cooldown,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFaulted >= cfg.MaxFaults
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("Restart guard changed state",
				zap.String("guard", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}

// Router exposes the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Supervisor exposes the backend supervisor
func (s *Server) Supervisor() *supervisor.Supervisor {
	return s.supervisor
}

// Run listens on the configured address and serves until ctx ends
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve launches the backend and serves HTTP on ln until ctx ends, then
// shuts everything down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.supervisor.Start(ctx); err != nil {
		ln.Close()
		s.close()
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		closeErr := s.Close()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return closeErr
	}
}

// Close gracefully shuts down the server. Websocket sessions end when the
// supervisor disposes the backend.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("Failed to shut down HTTP server", zap.Error(shutdownErr))
			err = fmt.Errorf("shutdown http server: %w", shutdownErr)
		}
	}
	s.close()
	return err
}

func (s *Server) close() {
	s.supervisor.Stop()
	s.logger.Info("Backend stopped")
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()
}
