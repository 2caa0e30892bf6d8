package requester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

// ErrDisposed settles every request that was pending when the requester was
// disposed, and every request issued afterwards.
var ErrDisposed = errors.New("requester: disposed")

// RemoteError is the failure outcome reported by the far end.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// RequestDestination and ResponseDestination name the two services a
// requester pair talks over.
func RequestDestination(name string) string  { return name + "::request" }
func ResponseDestination(name string) string { return name + "::response" }

type requestEnvelope struct {
	RequestID uint64          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type responseEnvelope struct {
	RequestID    uint64          `json:"request_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// DecodeRequest unpacks a "<name>::request" message.
func DecodeRequest(msg channel.Message) (uint64, json.RawMessage, error) {
	var env requestEnvelope
	if err := msg.Decode(&env); err != nil {
		return 0, nil, err
	}
	return env.RequestID, env.Payload, nil
}

// ResponseMessage builds the "<name>::response" message answering request
// id. A non-nil failure is sent as the error message and result is ignored.
func ResponseMessage(name string, id uint64, result interface{}, failure error) (channel.Message, error) {
	reply := responseEnvelope{RequestID: id}
	if failure != nil {
		text := failure.Error()
		reply.ErrorMessage = &text
	} else {
		raw, err := channel.Marshal(result)
		if err != nil {
			return channel.Message{}, fmt.Errorf("encode response: %w", err)
		}
		reply.Payload = raw
	}
	return channel.NewMessage(ResponseDestination(name), reply)
}

// Conn is the part of a channel a requester needs.
type Conn interface {
	channel.Sender
	RegisterService(destination string, h channel.Handler) error
	UnregisterService(destination string)
	Done() <-chan struct{}
}

// Requester correlates outgoing requests with their responses.
type Requester struct {
	name    string
	conn    Conn
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*Pending
	disposed bool

	done chan struct{}
}

// Option configures a Requester
type Option func(*Requester)

// WithLogger sets the requester logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Requester) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics enables request metrics
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(r *Requester) {
		r.metrics = metrics
	}
}

// New registers a requester called name on conn. The requester disposes
// itself when conn closes.
func New(name string, conn Conn, opts ...Option) (*Requester, error) {
	r := &Requester{
		name:    name,
		conn:    conn,
		logger:  zap.NewNop(),
		pending: make(map[uint64]*Pending),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("requester", name))

	if err := conn.RegisterService(ResponseDestination(name), r.onResponse); err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-conn.Done():
			r.Dispose()
		case <-r.done:
		}
	}()

	return r, nil
}

// Name returns the requester name
func (r *Requester) Name() string {
	return r.name
}

// Issue sends payload and returns the pending result. It never blocks on
// the transport. On a disposed requester the result is already settled with
// ErrDisposed.
func (r *Requester) Issue(payload interface{}) *Pending {
	raw, err := channel.Marshal(payload)
	if err != nil {
		p := newPending(0, nil)
		p.settle(nil, fmt.Errorf("encode request: %w", err))
		return p
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		p := newPending(0, nil)
		p.settle(nil, ErrDisposed)
		return p
	}
	id := r.allocateID()
	p := newPending(id, monitoring.NewTimer(r.metrics, r.name))
	r.pending[id] = p
	pendingCount := len(r.pending)
	r.mu.Unlock()

	r.metrics.SetBackendRequestsPending(r.name, pendingCount)

	msg, err := channel.NewMessage(RequestDestination(r.name), requestEnvelope{RequestID: id, Payload: raw})
	if err == nil {
		err = r.conn.Send(msg)
	}
	if err != nil {
		// the channel rejected the message; it is closing and the sweep
		// may already own the entry
		if r.take(id) != nil {
			r.logger.Debug("request not sent", zap.Uint64("request_id", id), zap.Error(err))
			p.settle(nil, ErrDisposed)
		}
	}
	return p
}

// Call issues payload and waits for its outcome.
func (r *Requester) Call(ctx context.Context, payload interface{}) (json.RawMessage, error) {
	return r.Issue(payload).Wait(ctx)
}

// allocateID skips ids still pending; callers hold mu.
func (r *Requester) allocateID() uint64 {
	for {
		id := r.nextID
		r.nextID++
		if _, busy := r.pending[id]; !busy {
			return id
		}
	}
}

func (r *Requester) take(id uint64) *Pending {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	count := len(r.pending)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.metrics.SetBackendRequestsPending(r.name, count)
	return p
}

func (r *Requester) onResponse(msg channel.Message) {
	var env responseEnvelope
	if err := msg.Decode(&env); err != nil {
		r.logger.Warn("malformed response", zap.Error(err))
		return
	}

	p := r.take(env.RequestID)
	if p == nil {
		r.logger.Debug("response for unknown request discarded", zap.Uint64("request_id", env.RequestID))
		return
	}

	if env.ErrorMessage != nil {
		p.settle(nil, &RemoteError{Message: *env.ErrorMessage})
		return
	}
	p.settle(env.Payload, nil)
}

// Dispose settles every pending request with ErrDisposed and rejects later
// ones. Safe to call more than once.
func (r *Requester) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	swept := r.pending
	r.pending = make(map[uint64]*Pending)
	close(r.done)
	// settle while holding the lock so no response can slip in between
	for _, p := range swept {
		p.settle(nil, ErrDisposed)
	}
	r.mu.Unlock()

	r.conn.UnregisterService(ResponseDestination(r.name))
	r.metrics.SetBackendRequestsPending(r.name, 0)
	if len(swept) > 0 {
		r.logger.Debug("pending requests settled on disposal", zap.Int("count", len(swept)))
	}
}

// Done is closed once the requester is disposed.
func (r *Requester) Done() <-chan struct{} {
	return r.done
}

// Pending is the one-shot outcome of an issued request.
type Pending struct {
	id    uint64
	timer *monitoring.Timer

	once    sync.Once
	done    chan struct{}
	payload json.RawMessage
	err     error
}

func newPending(id uint64, timer *monitoring.Timer) *Pending {
	return &Pending{id: id, timer: timer, done: make(chan struct{})}
}

func (p *Pending) settle(payload json.RawMessage, err error) {
	p.once.Do(func() {
		p.payload = payload
		p.err = err
		close(p.done)
		if p.timer != nil {
			p.timer.Stop(outcome(err))
		}
	})
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDisposed):
		return "disposed"
	case errors.As(err, &remote):
		return "remote_error"
	default:
		return "error"
	}
}

// ID returns the request id
func (p *Pending) ID() uint64 {
	return p.id
}

// Done is closed once the request settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (p *Pending) Result() (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.payload, p.err
	default:
		return nil, errors.New("requester: result not settled")
	}
}

// Wait blocks until the request settles or ctx ends.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.payload, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

