package requester

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"go.uber.org/zap"
)

// HandlerFunc answers one request. A non-nil error is sent back as the
// request's error message.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Receiver is the answering side of a requester pair: it serves
// "<name>::request" and replies on "<name>::response".
type Receiver struct {
	name    string
	conn    Conn
	handler HandlerFunc
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewReceiver registers handler for requests named name on conn. Each
// request runs on its own goroutine so a slow handler never stalls the
// channel reader.
func NewReceiver(name string, conn Conn, handler HandlerFunc, logger *zap.Logger) (*Receiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Receiver{
		name:    name,
		conn:    conn,
		handler: handler,
		logger:  logger.With(zap.String("receiver", name)),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := conn.RegisterService(RequestDestination(name), r.onRequest); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		select {
		case <-conn.Done():
			r.Close()
		case <-ctx.Done():
		}
	}()
	return r, nil
}

func (r *Receiver) onRequest(msg channel.Message) {
	id, payload, err := DecodeRequest(msg)
	if err != nil {
		r.logger.Warn("malformed request", zap.Error(err))
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.serve(id, payload)
	}()
}

func (r *Receiver) serve(id uint64, payload json.RawMessage) {
	result, failure := r.handler(r.ctx, payload)

	msg, err := ResponseMessage(r.name, id, result, failure)
	if err != nil {
		// the result could not be encoded; report that instead
		msg, err = ResponseMessage(r.name, id, nil, err)
	}
	if err == nil {
		err = r.conn.Send(msg)
	}
	if err != nil {
		r.logger.Debug("response not sent", zap.Uint64("request_id", id), zap.Error(err))
	}
}

// Close stops accepting requests, cancels running handlers and waits for
// them to return.
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.conn.UnregisterService(RequestDestination(r.name))
	r.wg.Wait()
}
