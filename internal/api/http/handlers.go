package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/supervisor"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Backend is the supervised backend as seen by the HTTP surface.
type Backend interface {
	Status() supervisor.Status
	Devices() ([]usb.Device, error)
	SetDevices(devices []usb.Device) error
}

// Handlers serves the bridge's HTTP endpoints.
type Handlers struct {
	backend Backend
	metrics *monitoring.Metrics
	logger  *zap.Logger
	version string
}

// Option configures Handlers
type Option func(*Handlers)

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(h *Handlers) { h.metrics = metrics }
}

func WithVersion(version string) Option {
	return func(h *Handlers) { h.version = version }
}

// NewHandlers creates the HTTP handlers
func NewHandlers(backend Backend, opts ...Option) *Handlers {
	h := &Handlers{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// DevicesRequest replaces the simulated device set.
type DevicesRequest struct {
	Devices []usb.Device `json:"devices"`
}

// Root describes the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "smart-card-connector",
		"version":   h.version,
		"websocket": "/ws",
	})
}

// Health reports whether sessions can currently be served. A backend that
// is not ready answers 503 so load balancers and the client back off.
func (h *Handlers) Health(c *gin.Context) {
	st := h.backend.Status()
	code, status := http.StatusOK, "ok"
	if !st.Ready {
		code, status = http.StatusServiceUnavailable, "unavailable"
	}
	c.JSON(code, gin.H{
		"status":  status,
		"backend": st,
	})
}

// ModuleStatus returns the backend module's lifecycle view
func (h *Handlers) ModuleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.Status())
}

// ListDevices returns the simulated USB devices
func (h *Handlers) ListDevices(c *gin.Context) {
	devices, err := h.backend.Devices()
	if err != nil {
		h.deviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, DevicesRequest{Devices: devices})
}

// SetDevices replaces the simulated USB devices. The backend picks the
// change up on its next poll.
func (h *Handlers) SetDevices(c *gin.Context) {
	var req DevicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device list: " + err.Error()})
		return
	}
	if req.Devices == nil {
		req.Devices = []usb.Device{}
	}

	if err := h.backend.SetDevices(req.Devices); err != nil {
		h.deviceError(c, err)
		return
	}
	h.logger.Info("simulated devices replaced", zap.Int("count", len(req.Devices)))
	c.JSON(http.StatusOK, req)
}

func (h *Handlers) deviceError(c *gin.Context, err error) {
	if errors.Is(err, supervisor.ErrSimulationDisabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": "device simulation is disabled"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// MetricsSnapshot aggregates counters and the backend view
type MetricsSnapshot struct {
	Timestamp time.Time           `json:"timestamp"`
	Metrics   monitoring.Snapshot `json:"metrics"`
	Backend   supervisor.Status   `json:"backend"`
}

// Metrics returns the JSON metrics snapshot
func (h *Handlers) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp: time.Now(),
		Metrics:   h.metrics.Snapshot(),
		Backend:   h.backend.Status(),
	})
}
