package module

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/monitoring"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reserved destinations a backend uses to report an unrecoverable fault.
const (
	MessageAssertionFailed = "assertion_failed"
	MessageFatalLog        = "fatal_log"
)

// signalTransport labels faults caused by the transport failing rather
// than by an explicit fault message.
const signalTransport = "transport"

var (
	ErrAlreadyStarted = errors.New("module: already started")
	ErrDisposed       = errors.New("module: disposed")
)

// State represents the lifecycle state of a module
type State int

const (
	// StateUnstarted - created, backend not launched
	StateUnstarted State = iota
	// StateLoading - backend launch in progress
	StateLoading
	// StateRunning - backend attached to the channel
	StateRunning
	// StateDisposedClean - disposed on request
	StateDisposedClean
	// StateDisposedFaulted - disposed because the backend faulted
	StateDisposedFaulted
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	case StateDisposedClean:
		return "disposed"
	case StateDisposedFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// IsDisposed reports whether s is terminal.
func (s State) IsDisposed() bool {
	return s == StateDisposedClean || s == StateDisposedFaulted
}

// Backend brings up the executable side of a module.
type Backend interface {
	// Launch starts the backend and returns the transport to talk to it.
	Launch(ctx context.Context) (channel.Transport, error)
	// Terminate stops a launched backend. It is called at most once.
	Terminate() error
}

// Module owns one backend instance and the channel to it. Consumers
// register on Channel() before Start so no early message is missed.
type Module struct {
	id      string
	backend Backend
	ch      *channel.Channel
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	state    State
	launched bool
	done     chan struct{}
}

// Option configures a Module
type Option func(*Module)

// WithLogger sets the module logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics enables lifecycle metrics
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Module) {
		m.metrics = metrics
	}
}

// New creates an unstarted module for backend.
func New(backend Backend, opts ...Option) *Module {
	m := &Module{
		id:      uuid.NewString(),
		backend: backend,
		logger:  zap.NewNop(),
		state:   StateUnstarted,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("module_id", m.id))
	m.ch = channel.New(channel.WithLogger(m.logger.Named("channel")))

	// registration on a fresh channel cannot collide
	_ = m.ch.RegisterService(MessageAssertionFailed, m.onFaultMessage)
	_ = m.ch.RegisterService(MessageFatalLog, m.onFaultMessage)

	m.metrics.SetModuleState(int(StateUnstarted), StateUnstarted.String())
	return m
}

// ID returns the instance id
func (m *Module) ID() string {
	return m.id
}

// Channel returns the module's message channel. It exists for the whole
// life of the module and closes on disposal.
func (m *Module) Channel() *channel.Channel {
	return m.ch
}

// State returns the current lifecycle state
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsDisposed reports whether the module reached a terminal state.
func (m *Module) IsDisposed() bool {
	return m.State().IsDisposed()
}

// Done is closed once the module is disposed, cleanly or by a fault.
func (m *Module) Done() <-chan struct{} {
	return m.done
}

// Start launches the backend and attaches it to the channel.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUnstarted {
		state := m.state
		m.mu.Unlock()
		if state.IsDisposed() {
			return ErrDisposed
		}
		return ErrAlreadyStarted
	}
	m.setState(StateLoading)
	m.mu.Unlock()

	m.metrics.IncModuleStarts()
	m.logger.Info("launching backend")

	t, err := m.backend.Launch(ctx)

	m.mu.Lock()
	if m.state != StateLoading {
		// disposed while loading
		m.mu.Unlock()
		if err == nil {
			_ = t.Close()
			m.terminate()
		}
		return ErrDisposed
	}
	if err != nil {
		m.setState(StateDisposedFaulted)
		m.mu.Unlock()
		m.logger.Error("backend launch failed", zap.Error(err))
		m.metrics.RecordModuleFault("launch")
		m.finish(false)
		return fmt.Errorf("launch backend: %w", err)
	}
	m.launched = true
	m.setState(StateRunning)
	m.mu.Unlock()

	if err := m.ch.Attach(t); err != nil {
		_ = t.Close()
		m.fault(signalTransport, err.Error())
		return fmt.Errorf("attach backend: %w", err)
	}

	go m.watch()
	m.logger.Info("backend running")
	return nil
}

// Dispose tears the module down. Safe to call more than once and in any
// state; a faulted module stays faulted.
func (m *Module) Dispose() {
	m.mu.Lock()
	if m.state.IsDisposed() {
		m.mu.Unlock()
		return
	}
	launched := m.launched
	m.setState(StateDisposedClean)
	m.mu.Unlock()

	m.logger.Info("module disposed")
	m.finish(launched)
}

// onFaultMessage handles the reserved fault destinations.
func (m *Module) onFaultMessage(msg channel.Message) {
	var reason string
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&reason); err != nil {
			reason = string(msg.Payload)
		}
	}
	m.fault(msg.Destination, reason)
}

func (m *Module) fault(signal, reason string) {
	m.mu.Lock()
	if m.state.IsDisposed() {
		m.mu.Unlock()
		return
	}
	launched := m.launched
	m.setState(StateDisposedFaulted)
	m.mu.Unlock()

	m.logger.Error("backend faulted", zap.String("signal", signal), zap.String("reason", reason))
	m.metrics.RecordModuleFault(signal)

	m.ch.Close()
	close(m.done)
	if launched {
		// may run on the channel reader; do not block it on process exit
		go m.terminate()
	}
}

// watch turns an unexpected transport failure into a fault.
func (m *Module) watch() {
	<-m.ch.Done()
	if err := m.ch.Err(); err != nil {
		m.fault(signalTransport, err.Error())
	}
}

// finish closes the channel, signals Done and stops the backend. Callers
// have already moved the state to a terminal value.
func (m *Module) finish(launched bool) {
	m.ch.Close()
	close(m.done)
	if launched {
		m.terminate()
	}
}

func (m *Module) terminate() {
	if err := m.backend.Terminate(); err != nil {
		m.logger.Warn("backend terminate failed", zap.Error(err))
	}
}

// setState records a transition; callers hold mu.
func (m *Module) setState(s State) {
	m.logger.Debug("module state", zap.Stringer("from", m.state), zap.Stringer("to", s))
	m.state = s
	m.metrics.SetModuleState(int(s), s.String())
}
