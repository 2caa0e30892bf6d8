package ws

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/provider"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/shared/id"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BackendSource hands out the backend a new session binds to. The returned
// Deps carry Module, Readiness and Calls; the handler fills in the rest.
type BackendSource interface {
	Backend() (provider.Deps, error)
}

// Config tunes websocket sessions
type Config struct {
	// AllowedOrigins lists accepted Origin headers; "*" accepts any
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  int64
	// FramesPerSecond and FrameBurst limit inbound frames per connection
	FramesPerSecond float64
	FrameBurst      int
}

// DefaultConfig returns settings suitable for a local browser client
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:  []string{"*"},
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxFrameBytes:   64 * 1024,
		FramesPerSecond: 200,
		FrameBurst:      400,
	}
}

// Handler manages WebSocket connections. Each connection is one provider
// session.
type Handler struct {
	backends BackendSource
	cfg      Config
	upgrader websocket.Upgrader

	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// Option configures a Handler
type Option func(*Handler)

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(h *Handler) { h.metrics = metrics }
}

func WithTracer(tracer *tracing.Tracer) Option {
	return func(h *Handler) { h.tracer = tracer }
}

// NewHandler creates a new WebSocket handler
func NewHandler(backends BackendSource, cfg Config, opts ...Option) *Handler {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaults.MaxFrameBytes
	}
	if cfg.FramesPerSecond <= 0 {
		cfg.FramesPerSecond = defaults.FramesPerSecond
		cfg.FrameBurst = defaults.FrameBurst
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = 1
	}

	h := &Handler{
		backends: backends,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleConnection upgrades the request and serves provider events until
// the client leaves or the backend goes away. Without a running backend the
// upgrade is refused with 503.
func (h *Handler) HandleConnection(c *gin.Context) {
	deps, err := h.backends.Backend()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sessionID := id.NewSessionID()
	logger := h.logger.With(zap.String("session", sessionID.String()))
	s := &session{
		conn:         conn,
		logger:       logger,
		metrics:      h.metrics,
		writeTimeout: h.cfg.WriteTimeout,
	}

	bus := provider.NewEventBus()
	deps.Events = bus
	deps.Reporter = s
	p, err := provider.New(deps,
		provider.WithSessionID(sessionID),
		provider.WithLogger(logger.Named("provider")),
		provider.WithMetrics(h.metrics),
		provider.WithTracer(h.tracer),
	)
	if err != nil {
		logger.Error("provider not created", zap.Error(err))
		_ = s.control(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "provider unavailable"))
		return
	}

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	logger.Info("websocket session opened")

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		h.keepalive(s, done, p.Stopped())
	}()

	h.readLoop(s, bus)

	close(done)
	<-stopped
	p.Dispose()
	logger.Info("websocket session closed")
}

// keepalive pings the client and closes the connection once the provider
// stopped underneath it and reported every request it accepted, so the
// client reconnects to a fresh backend.
func (h *Handler) keepalive(s *session, done, gone <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.control(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
			}
		case <-gone:
			s.logger.Info("backend gone, closing session")
			_ = s.control(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "backend unavailable"))
			_ = s.conn.Close()
			return
		case <-done:
			return
		}
	}
}

func (h *Handler) readLoop(s *session, bus *provider.EventBus) {
	pongWait := 2 * h.cfg.PingInterval
	s.conn.SetReadLimit(h.cfg.MaxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.FramesPerSecond), h.cfg.FrameBurst)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		header, event, err := decodeFrame(data)
		h.metrics.RecordWSMessage("in", header.Event)
		switch {
		case err != nil:
			s.sendError(header.RequestID, err.Error())
		case event == nil:
			_ = s.send(FramePong, map[string]interface{}{"function": FramePong})
		case !limiter.Allow():
			s.sendError(header.RequestID, "rate limit exceeded")
		default:
			bus.Dispatch(event)
		}
	}
}
