package readiness

import (
	"context"
	"errors"
	"sync"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"go.uber.org/zap"
)

// MessageReady is the destination the backend sends to once its daemon can
// accept calls.
const MessageReady = "pcsc_lite_ready"

// ErrDisposed is returned by Wait when the tracker is disposed before the
// ready signal arrives.
var ErrDisposed = errors.New("readiness: tracker disposed")

// Registrar is the part of a channel the tracker needs.
type Registrar interface {
	RegisterService(destination string, h channel.Handler) error
	UnregisterService(destination string)
}

// Tracker waits for the one-shot ready signal. Readiness and disposal are
// independent: a disposed tracker may or may not have been ready first.
type Tracker struct {
	ch     Registrar
	logger *zap.Logger

	mu       sync.Mutex
	ready    chan struct{}
	disposed chan struct{}
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLogger sets the tracker logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a tracker and registers it for MessageReady on ch.
func New(ch Registrar, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		ch:       ch,
		logger:   zap.NewNop(),
		ready:    make(chan struct{}),
		disposed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := ch.RegisterService(MessageReady, t.onReady); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) onReady(channel.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isClosed(t.disposed) {
		t.logger.Debug("ready signal after disposal ignored")
		return
	}
	if isClosed(t.ready) {
		t.logger.Warn("duplicate ready signal ignored")
		return
	}
	close(t.ready)
	t.logger.Info("backend ready")
}

// Ready is closed when the ready signal arrives. It is never closed if the
// tracker is disposed first.
func (t *Tracker) Ready() <-chan struct{} {
	return t.ready
}

// Disposed is closed by Dispose.
func (t *Tracker) Disposed() <-chan struct{} {
	return t.disposed
}

// IsReady reports whether the ready signal has been seen.
func (t *Tracker) IsReady() bool {
	return isClosed(t.ready)
}

// Wait blocks until the backend is ready, the tracker is disposed, or ctx
// ends.
func (t *Tracker) Wait(ctx context.Context) error {
	// prefer ready when both are already closed
	select {
	case <-t.ready:
		return nil
	default:
	}

	select {
	case <-t.ready:
		return nil
	case <-t.disposed:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose stops listening for the ready signal. Safe to call more than once.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	if isClosed(t.disposed) {
		t.mu.Unlock()
		return
	}
	close(t.disposed)
	t.mu.Unlock()

	t.ch.UnregisterService(MessageReady)
	t.logger.Debug("readiness tracker disposed")
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
