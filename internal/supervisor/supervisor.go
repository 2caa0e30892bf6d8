package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/module"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/provider"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
	"go.uber.org/zap"
)

var (
	ErrNotRunning         = errors.New("supervisor: backend not running")
	ErrAlreadyStarted     = errors.New("supervisor: already started")
	ErrSimulationDisabled = errors.New("supervisor: device simulation disabled")
)

// BackendFactory builds a fresh backend for every run.
type BackendFactory func() module.Backend

// Settings tunes startup and automatic restarts.
type Settings struct {
	StartTimeout time.Duration
	// Restart relaunches the backend after it faults.
	Restart bool
	// StableAfter is the uptime after which a faulted run still counts as
	// healthy for the restart guard.
	StableAfter time.Duration
	// Delay is the pause before each restart attempt.
	Delay time.Duration
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		StartTimeout: 10 * time.Second,
		Restart:      true,
		StableAfter:  10 * time.Second,
		Delay:        500 * time.Millisecond,
	}
}

// Status is a point-in-time view of the supervised backend.
type Status struct {
	ModuleID   string `json:"moduleId,omitempty"`
	State      string `json:"state"`
	Ready      bool   `json:"ready"`
	UptimeSecs int64  `json:"uptimeSeconds"`
	Runs       int    `json:"runs"`
	Restarts   int    `json:"restarts"`
	Guard      string `json:"restartGuard,omitempty"`
	LastError  string `json:"lastError,omitempty"`
	Simulation bool   `json:"simulation"`
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(s *Supervisor) { s.metrics = metrics }
}

// WithSimulation answers the backend's device enumeration from hook.
func WithSimulation(hook *usb.SimulationHook) Option {
	return func(s *Supervisor) { s.hook = hook }
}

// WithLister serves libusb requests the simulation hook does not answer.
func WithLister(lister usb.Lister) Option {
	return func(s *Supervisor) { s.lister = lister }
}

// WithGuard limits restarts of a backend that keeps faulting.
func WithGuard(guard *resilience.Guard) Option {
	return func(s *Supervisor) { s.guard = guard }
}

// Supervisor owns the backend module. It hands out the current run to new
// sessions and relaunches the backend after a fault.
type Supervisor struct {
	factory  BackendFactory
	settings Settings
	hook     *usb.SimulationHook
	lister   usb.Lister
	guard    *resilience.Guard
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time

	mu       sync.Mutex
	current  *Runtime
	runs     int
	lastErr  error
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a supervisor. Nothing runs until Start.
func New(factory BackendFactory, settings Settings, opts ...Option) *Supervisor {
	defaults := DefaultSettings()
	if settings.StartTimeout <= 0 {
		settings.StartTimeout = defaults.StartTimeout
	}
	if settings.Delay <= 0 {
		settings.Delay = defaults.Delay
	}

	s := &Supervisor{
		factory:  factory,
		settings: settings,
		logger:   zap.NewNop(),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the first run. A launch failure is returned and nothing
// is left running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	attempt, err := s.acquire()
	if err != nil {
		return err
	}
	rt, err := s.launch(ctx)
	if err != nil {
		finish(attempt, false)
		s.setErr(err)
		return fmt.Errorf("start backend: %w", err)
	}
	s.install(rt)

	s.wg.Add(1)
	go s.supervise(rt, attempt)
	return nil
}

// Stop disposes the current run and waits for supervision to end.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Backend returns the dependencies of the current run.
func (s *Supervisor) Backend() (provider.Deps, error) {
	s.mu.Lock()
	rt := s.current
	s.mu.Unlock()

	if rt == nil || rt.Module.IsDisposed() {
		return provider.Deps{}, ErrNotRunning
	}
	return rt.Deps(), nil
}

// Status reports the current run.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:      module.StateUnstarted.String(),
		Runs:       s.runs,
		Simulation: s.hook != nil,
	}
	if s.runs > 1 {
		st.Restarts = s.runs - 1
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.guard != nil {
		st.Guard = s.guard.State().String()
	}
	if rt := s.current; rt != nil {
		state := rt.Module.State()
		st.ModuleID = rt.Module.ID()
		st.State = state.String()
		st.Ready = rt.Tracker.IsReady() && !state.IsDisposed()
		if !state.IsDisposed() {
			st.UptimeSecs = int64(s.now().Sub(rt.started) / time.Second)
		}
	}
	return st
}

// Devices returns the simulated device set.
func (s *Supervisor) Devices() ([]usb.Device, error) {
	if s.hook == nil {
		return nil, ErrSimulationDisabled
	}
	return s.hook.ListDevices(context.Background())
}

// SetDevices replaces the simulated device set. The set survives restarts.
func (s *Supervisor) SetDevices(devices []usb.Device) error {
	if s.hook == nil {
		return ErrSimulationDisabled
	}
	if err := usb.ValidateDevices(devices); err != nil {
		return err
	}
	s.hook.SetDevices(devices)
	return nil
}

func (s *Supervisor) supervise(rt *Runtime, attempt *resilience.Attempt) {
	defer s.wg.Done()

	for {
		select {
		case <-rt.Module.Done():
		case <-s.stop:
			rt.Module.Dispose()
		}
		rt.release()

		state := rt.Module.State()
		uptime := s.now().Sub(rt.started)
		finish(attempt, state == module.StateDisposedClean || uptime >= s.settings.StableAfter)

		if state != module.StateDisposedFaulted || s.stopping() {
			s.logger.Info("backend stopped", zap.String("module", rt.Module.ID()), zap.Stringer("state", state))
			return
		}
		s.logger.Warn("backend faulted",
			zap.String("module", rt.Module.ID()),
			zap.Duration("uptime", uptime),
		)
		if !s.settings.Restart {
			s.metrics.RecordModuleRestart("disabled")
			return
		}

		rt, attempt = s.restart()
		if rt == nil {
			return
		}
	}
}

// restart retries until a run starts or the supervisor stops.
func (s *Supervisor) restart() (*Runtime, *resilience.Attempt) {
	wait := s.settings.Delay
	for {
		select {
		case <-s.stop:
			return nil, nil
		case <-time.After(wait):
		}

		attempt, err := s.acquire()
		if err != nil {
			wait = s.guard.RetryAfter()
			if wait < s.settings.Delay {
				wait = s.settings.Delay
			}
			s.metrics.RecordModuleRestart("blocked")
			s.logger.Warn("backend restart blocked", zap.Error(err), zap.Duration("retry_after", wait))
			continue
		}

		rt, err := s.launch(context.Background())
		if err != nil {
			finish(attempt, false)
			s.setErr(err)
			s.metrics.RecordModuleRestart("failed")
			s.logger.Error("backend restart failed", zap.Error(err))
			wait = s.settings.Delay
			continue
		}

		s.install(rt)
		s.metrics.RecordModuleRestart("started")
		s.logger.Info("backend restarted", zap.String("module", rt.Module.ID()))
		return rt, attempt
	}
}

func (s *Supervisor) acquire() (*resilience.Attempt, error) {
	if s.guard == nil {
		return nil, nil
	}
	return s.guard.Acquire()
}

func finish(attempt *resilience.Attempt, healthy bool) {
	if attempt != nil {
		attempt.Finish(healthy)
	}
}

func (s *Supervisor) install(rt *Runtime) {
	s.mu.Lock()
	s.current = rt
	s.runs++
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *Supervisor) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Supervisor) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
