package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/requester"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/shared/id"
	"go.uber.org/zap"
)

// ErrDisposed is returned for calls cut short by provider disposal
var ErrDisposed = errors.New("provider: disposed")

const defaultReleaseTimeout = 2 * time.Second

// Lifecycle is the backend module as seen by the provider
type Lifecycle interface {
	Done() <-chan struct{}
	IsDisposed() bool
}

// Readiness reports when the backend can take calls
type Readiness interface {
	Ready() <-chan struct{}
	Disposed() <-chan struct{}
}

// Caller issues remote calls to the backend
type Caller interface {
	Issue(payload interface{}) *requester.Pending
}

// Deps are the collaborators a provider needs. All are required.
type Deps struct {
	Events    EventSource
	Reporter  Reporter
	Module    Lifecycle
	Readiness Readiness
	Calls     Caller
}

// Provider turns request events into backend calls and reports their
// outcome. One provider serves one caller session and owns the contexts
// that session established.
type Provider struct {
	reporter Reporter
	module   Lifecycle
	ready    Readiness
	calls    Caller

	logger         *zap.Logger
	metrics        *monitoring.Metrics
	tracer         *tracing.Tracer
	session        id.SessionID
	releaseTimeout time.Duration

	mu       sync.Mutex
	disposed bool
	contexts map[pcsc.Handle]struct{}
	wg       sync.WaitGroup

	unsubscribe func()
	done        chan struct{}
	stopped     chan struct{}
}

// Option configures a Provider
type Option func(*Provider)

// WithLogger sets the provider logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records reports and dropped events
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(p *Provider) {
		p.metrics = metrics
	}
}

// WithTracer submits one span per request
func WithTracer(tracer *tracing.Tracer) Option {
	return func(p *Provider) {
		p.tracer = tracer
	}
}

// WithSessionID names the caller session in logs and spans
func WithSessionID(session id.SessionID) Option {
	return func(p *Provider) {
		p.session = session
	}
}

// WithReleaseTimeout bounds how long Dispose waits for each held context
// to be released
func WithReleaseTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.releaseTimeout = d
		}
	}
}

// New subscribes a provider to deps.Events. The provider disposes itself
// when the module or the readiness tracker is disposed.
func New(deps Deps, opts ...Option) (*Provider, error) {
	switch {
	case deps.Events == nil:
		return nil, errors.New("provider: nil event source")
	case deps.Reporter == nil:
		return nil, errors.New("provider: nil reporter")
	case deps.Module == nil:
		return nil, errors.New("provider: nil module")
	case deps.Readiness == nil:
		return nil, errors.New("provider: nil readiness")
	case deps.Calls == nil:
		return nil, errors.New("provider: nil caller")
	}

	p := &Provider{
		reporter:       deps.Reporter,
		module:         deps.Module,
		ready:          deps.Readiness,
		calls:          deps.Calls,
		logger:         zap.NewNop(),
		releaseTimeout: defaultReleaseTimeout,
		contexts:       make(map[pcsc.Handle]struct{}),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.session == "" {
		p.session = id.NewSessionID()
	}
	p.logger = p.logger.With(zap.String("session", p.session.String()))

	p.metrics.IncProviderSessions()
	p.unsubscribe = deps.Events.Subscribe(p.onEvent)
	go p.watch()

	p.logger.Debug("provider created")
	return p, nil
}

// SessionID returns the session this provider serves
func (p *Provider) SessionID() id.SessionID {
	return p.session
}

// Done is closed once disposal starts
func (p *Provider) Done() <-chan struct{} {
	return p.done
}

// Stopped is closed once disposal finished and every accepted request was
// reported
func (p *Provider) Stopped() <-chan struct{} {
	return p.stopped
}

// IsDisposed reports whether disposal has started
func (p *Provider) IsDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// Dispose stops accepting events, settles waiting requests with NO_SERVICE
// and returns once every accepted request has been reported. Contexts the
// session still holds are released when the backend is alive. Dispose must
// not be called from a Reporter method.
func (p *Provider) Dispose() {
	p.dispose(true)
}

func (p *Provider) dispose(release bool) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		<-p.stopped
		return
	}
	p.disposed = true
	close(p.done)
	p.mu.Unlock()

	p.unsubscribe()
	p.wg.Wait()

	if release {
		p.releaseHeld()
	}
	p.metrics.DecProviderSessions()
	p.logger.Debug("provider disposed")
	close(p.stopped)
}

// watch disposes the provider along with the backend
func (p *Provider) watch() {
	select {
	case <-p.module.Done():
		p.logger.Info("backend module gone, disposing provider")
	case <-p.ready.Disposed():
		p.logger.Info("readiness tracker disposed, disposing provider")
	case <-p.done:
		return
	}
	p.dispose(false)
}

// releaseHeld releases contexts left open by the session; best effort.
func (p *Provider) releaseHeld() {
	p.mu.Lock()
	held := make([]pcsc.Handle, 0, len(p.contexts))
	for h := range p.contexts {
		held = append(held, h)
	}
	p.contexts = make(map[pcsc.Handle]struct{})
	p.mu.Unlock()

	if len(held) == 0 || p.module.IsDisposed() || !isClosed(p.ready.Ready()) {
		return
	}

	for _, h := range held {
		call, err := pcsc.NewCall(pcsc.FnReleaseContext, h)
		if err != nil {
			continue
		}
		pending := p.calls.Issue(call)

		timer := time.NewTimer(p.releaseTimeout)
		select {
		case <-pending.Done():
			if _, err := pending.Result(); err != nil {
				p.logger.Debug("held context not released", zap.Int32("context", int32(h)), zap.Error(err))
			}
		case <-timer.C:
			p.logger.Warn("held context release timed out", zap.Int32("context", int32(h)))
		case <-p.module.Done():
		}
		timer.Stop()
	}
}

func (p *Provider) onEvent(e Event) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		p.logger.Warn("event dropped, provider disposed",
			zap.String("operation", e.Operation()),
			zap.Int64("request_id", int64(e.Request())),
		)
		p.metrics.RecordProviderDropped(e.Operation())
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.handle(e)
}

func (p *Provider) handle(e Event) {
	defer p.wg.Done()

	span, ctx := p.tracer.StartSpan(context.Background(), e.Operation())
	span.SetTag("request_id", strconv.FormatInt(int64(e.Request()), 10))
	span.SetTag("session", p.session.String())

	code, ok := p.dispatch(ctx, e)
	if !ok {
		p.logger.Error("unsupported event", zap.String("type", fmt.Sprintf("%T", e)))
		p.metrics.RecordProviderDropped(e.Operation())
		return
	}

	span.SetStatus(string(code))
	span.Finish()
	p.tracer.Submit(span)

	p.metrics.RecordProviderReport(e.Operation(), string(code))
	p.logger.Debug("request reported",
		zap.String("operation", e.Operation()),
		zap.Int64("request_id", int64(e.Request())),
		zap.String("result", string(code)),
	)
}

// invoke runs one remote call and decodes its outputs. An unreachable
// backend maps to NO_SERVICE, a malformed exchange to INTERNAL_ERROR.
func (p *Provider) invoke(ctx context.Context, fn string, args []interface{}, outs ...interface{}) pcsc.ResultCode {
	return p.exchange(ctx, fn, args, p.settle, outs...)
}

// invokeLingering is invoke for calls whose effect must be known even when
// disposal starts while they are in flight.
func (p *Provider) invokeLingering(ctx context.Context, fn string, args []interface{}, outs ...interface{}) pcsc.ResultCode {
	return p.exchange(ctx, fn, args, p.linger, outs...)
}

type settleFunc func(*requester.Pending) (json.RawMessage, error)

func (p *Provider) exchange(ctx context.Context, fn string, args []interface{}, wait settleFunc, outs ...interface{}) pcsc.ResultCode {
	raw, err := p.call(ctx, fn, args, wait)
	if err != nil {
		if errors.Is(err, ErrDisposed) || errors.Is(err, requester.ErrDisposed) {
			return pcsc.ResultNoService
		}
		p.logger.Error("remote call failed", zap.String("function", fn), zap.Error(err))
		return pcsc.ResultInternalError
	}

	rc, err := pcsc.DecodeResult(raw, outs...)
	if err != nil {
		p.logger.Error("malformed call result", zap.String("function", fn), zap.Error(err))
		return pcsc.ResultInternalError
	}
	return rc.Result()
}

func (p *Provider) call(ctx context.Context, fn string, args []interface{}, wait settleFunc) (json.RawMessage, error) {
	if err := p.awaitReady(); err != nil {
		return nil, err
	}

	span, _ := p.tracer.StartSpan(ctx, fn)
	defer func() {
		span.Finish()
		p.tracer.Submit(span)
	}()

	call, err := pcsc.NewCall(fn, args...)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	pending := p.calls.Issue(call)
	span.SetTag("call_id", strconv.FormatUint(pending.ID(), 10))

	raw, err := wait(pending)
	if err != nil {
		span.SetError(err)
	}
	return raw, err
}

// settle waits for the call's result, giving up as soon as disposal starts
func (p *Provider) settle(pending *requester.Pending) (json.RawMessage, error) {
	select {
	case <-pending.Done():
		return pending.Result()
	case <-p.done:
		return nil, ErrDisposed
	}
}

// linger waits for the call's result and keeps waiting up to the release
// timeout once disposal starts. It gives up when the module goes away.
func (p *Provider) linger(pending *requester.Pending) (json.RawMessage, error) {
	select {
	case <-pending.Done():
		return pending.Result()
	case <-p.module.Done():
		return nil, ErrDisposed
	case <-p.done:
	}

	timer := time.NewTimer(p.releaseTimeout)
	defer timer.Stop()
	select {
	case <-pending.Done():
		return pending.Result()
	case <-p.module.Done():
	case <-timer.C:
		p.logger.Warn("in-flight call abandoned on dispose")
	}
	return nil, ErrDisposed
}

// awaitReady blocks until the backend signalled readiness or went away
func (p *Provider) awaitReady() error {
	select {
	case <-p.ready.Ready():
	case <-p.ready.Disposed():
		return ErrDisposed
	case <-p.module.Done():
		return ErrDisposed
	case <-p.done:
		return ErrDisposed
	}
	if isClosed(p.done) {
		return ErrDisposed
	}
	return nil
}

// usable awaits readiness, then checks the context belongs to this session
func (p *Provider) usable(h pcsc.Handle) pcsc.ResultCode {
	if err := p.awaitReady(); err != nil {
		return pcsc.ResultNoService
	}
	if !p.hasContext(h) {
		return pcsc.ResultInvalidHandle
	}
	return pcsc.ResultSuccess
}

func (p *Provider) hasContext(h pcsc.Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.contexts[h]
	return ok
}

func (p *Provider) addContext(h pcsc.Handle) {
	p.mu.Lock()
	p.contexts[h] = struct{}{}
	p.mu.Unlock()
}

func (p *Provider) removeContext(h pcsc.Handle) {
	p.mu.Lock()
	delete(p.contexts, h)
	p.mu.Unlock()
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
