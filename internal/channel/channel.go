package channel

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrClosed            = errors.New("channel: closed")
	ErrAlreadyAttached   = errors.New("channel: transport already attached")
	ErrNoDestination     = errors.New("channel: message has no destination")
	ErrServiceRegistered = errors.New("channel: service already registered")
)

// Handler receives one inbound message. Handlers run on the channel's reader
// goroutine, one message at a time, and must not block.
type Handler func(msg Message)

// Channel is a duplex, message-oriented link to a backend. It can be used
// before a transport is attached: outbound messages queue until Attach.
type Channel struct {
	logger *zap.Logger

	mu        sync.RWMutex
	services  map[string]Handler
	hooks     []Hook
	fallback  Handler
	transport Transport
	closed    bool
	err       error

	outMu  sync.Mutex
	outbox []Message
	wake   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Channel
type Option func(*Channel)

// WithLogger sets the channel logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an unattached channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		logger:   zap.NewNop(),
		services: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach binds the transport and starts the reader and writer goroutines.
// Messages queued before Attach are flushed first, in send order.
func (c *Channel) Attach(t Transport) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.transport != nil {
		c.mu.Unlock()
		return ErrAlreadyAttached
	}
	c.transport = t
	c.mu.Unlock()

	go c.readLoop(t)
	go c.writeLoop(t)
	return nil
}

// Send enqueues msg for delivery. It never blocks on the transport. After
// the channel closes it returns ErrClosed and the message is discarded.
func (c *Channel) Send(msg Message) error {
	if msg.Destination == "" {
		return ErrNoDestination
	}

	c.outMu.Lock()
	if c.isClosed() {
		c.outMu.Unlock()
		return ErrClosed
	}
	c.outbox = append(c.outbox, msg)
	c.outMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// SendValue encodes payload and sends it to destination.
func (c *Channel) SendValue(destination string, payload interface{}) error {
	msg, err := NewMessage(destination, payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// RegisterService routes messages addressed to destination to h.
func (c *Channel) RegisterService(destination string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[destination]; exists {
		return fmt.Errorf("%w: %s", ErrServiceRegistered, destination)
	}
	c.services[destination] = h
	return nil
}

// UnregisterService removes the route for destination.
func (c *Channel) UnregisterService(destination string) {
	c.mu.Lock()
	delete(c.services, destination)
	c.mu.Unlock()
}

// OnMessage sets the default receiver for messages no hook consumed and no
// service claims.
func (c *Channel) OnMessage(h Handler) {
	c.mu.Lock()
	c.fallback = h
	c.mu.Unlock()
}

// AddHook appends an interceptor. Hooks run in registration order.
func (c *Channel) AddHook(h Hook) {
	c.mu.Lock()
	// copy-on-write so dispatch can iterate without holding the lock
	hooks := make([]Hook, len(c.hooks), len(c.hooks)+1)
	copy(hooks, c.hooks)
	c.hooks = append(hooks, h)
	c.mu.Unlock()
}

// Close shuts the channel down. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeWith(nil)
	return nil
}

// Done is closed once the channel is closed, for any reason.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err reports why the channel closed: nil after Close, the transport error
// after a failure, nil while open.
func (c *Channel) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) closeWith(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		t := c.transport
		c.closed = true
		c.err = err
		c.mu.Unlock()

		c.outMu.Lock()
		dropped := len(c.outbox)
		c.outbox = nil
		close(c.done)
		c.outMu.Unlock()

		if t != nil {
			if closeErr := t.Close(); closeErr != nil {
				c.logger.Debug("transport close failed", zap.Error(closeErr))
			}
		}

		if err != nil {
			c.logger.Warn("channel failed", zap.Error(err), zap.Int("dropped", dropped))
		} else {
			c.logger.Debug("channel closed", zap.Int("dropped", dropped))
		}
	})
}

func (c *Channel) writeLoop(t Transport) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			c.outMu.Lock()
			batch := c.outbox
			c.outbox = nil
			c.outMu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, msg := range batch {
				if err := t.Send(msg); err != nil {
					c.closeWith(fmt.Errorf("channel: send %s: %w", msg.Destination, err))
					return
				}
			}
		}
	}
}

func (c *Channel) readLoop(t Transport) {
	for {
		msg, err := t.Receive()
		if err != nil {
			c.closeWith(fmt.Errorf("channel: receive: %w", err))
			return
		}
		if c.isClosed() {
			return
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg Message) {
	c.mu.RLock()
	hooks := c.hooks
	c.mu.RUnlock()

	for i, h := range hooks {
		verdict := h.Intercept(msg, c)
		switch verdict.Kind {
		case VerdictConsume:
			c.logger.Debug("message consumed by hook",
				zap.String("type", msg.Destination),
				zap.Int("hook", i),
			)
			return
		case VerdictReplace:
			msg = verdict.Message
		}
	}

	c.mu.RLock()
	handler, ok := c.services[msg.Destination]
	if !ok {
		handler = c.fallback
	}
	c.mu.RUnlock()

	if handler == nil {
		c.logger.Warn("dropping message with no receiver", zap.String("type", msg.Destination))
		return
	}
	handler(msg)
}
