package pcscsim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/module"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/readiness"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/requester"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
	"go.uber.org/zap"
)

// MessageCrash asks the daemon to fault on purpose. The payload names the
// fault: CrashAssertion or CrashFatalLog.
const MessageCrash = "simulator::crash"

const (
	CrashAssertion = "assertion"
	CrashFatalLog  = "fatal_log"
)

const defaultPollInterval = 100 * time.Millisecond

// Daemon is a PC/SC daemon stand-in that speaks the module channel
// protocol. It discovers readers by polling the front end's libusb
// service and answers remote calls from its own simulated state.
type Daemon struct {
	logger       *zap.Logger
	pollInterval time.Duration
	reg          *registry

	mu      sync.Mutex
	crashed bool
}

// Option configures a Daemon
type Option func(*Daemon)

// WithLogger sets the daemon logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPollInterval sets how often devices are listed
func WithPollInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithSeed fixes the handle generator seed
func WithSeed(seed int64) Option {
	return func(d *Daemon) {
		d.reg = newRegistry(seed)
	}
}

// New creates a daemon with no readers.
func New(opts ...Option) *Daemon {
	d := &Daemon{
		logger:       zap.NewNop(),
		pollInterval: defaultPollInterval,
		reg:          newRegistry(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Serve runs the daemon over t until ctx ends or the transport closes. It
// matches module.ServeFunc.
func (d *Daemon) Serve(ctx context.Context, t channel.Transport) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := channel.New(channel.WithLogger(d.logger.Named("channel")))
	defer ch.Close()

	devices, err := requester.New(usb.RequesterName, ch, requester.WithLogger(d.logger))
	if err != nil {
		d.logger.Error("libusb requester", zap.Error(err))
		return
	}
	defer devices.Dispose()

	calls, err := requester.NewReceiver(pcsc.RequesterName, ch, d.handle, d.logger)
	if err != nil {
		d.logger.Error("pcsc receiver", zap.Error(err))
		return
	}
	defer calls.Close()

	if err := ch.RegisterService(MessageCrash, func(msg channel.Message) {
		d.crash(ch, msg)
	}); err != nil {
		d.logger.Error("crash service", zap.Error(err))
		return
	}

	if err := ch.Attach(t); err != nil {
		d.logger.Error("attach transport", zap.Error(err))
		return
	}
	d.logger.Info("daemon serving")

	d.poll(ctx, ch, devices)
	d.logger.Info("daemon stopped")
}

// poll lists devices on every tick and announces readiness after the first
// successful listing.
func (d *Daemon) poll(ctx context.Context, ch *channel.Channel, devices *requester.Requester) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	ready := false
	for {
		if !d.isCrashed() {
			if err := d.refresh(ctx, devices); err != nil {
				d.logger.Debug("device poll failed", zap.Error(err))
			} else if !ready {
				ready = true
				if err := ch.SendValue(readiness.MessageReady, nil); err != nil {
					d.logger.Warn("ready signal not sent", zap.Error(err))
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ch.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) refresh(ctx context.Context, devices *requester.Requester) error {
	callCtx, cancel := context.WithTimeout(ctx, 5*d.pollInterval+time.Second)
	defer cancel()

	raw, err := devices.Call(callCtx, usb.Call{FunctionName: usb.FnListDevices})
	if err != nil {
		return err
	}
	var list []usb.Device
	if err := channel.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("decode device list: %w", err)
	}
	if d.reg.sync(list) {
		d.logger.Info("readers changed", zap.Int("devices", len(list)))
	}
	return nil
}

func (d *Daemon) handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	if d.isCrashed() {
		// a crashed daemon never answers; the front end disposes it
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var call pcsc.RemoteCall
	if err := channel.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("decode remote call: %w", err)
	}
	d.logger.Debug("remote call", zap.Stringer("call", call))
	return d.call(ctx, call)
}

// crash emits the requested fault signal and stops answering.
func (d *Daemon) crash(ch *channel.Channel, msg channel.Message) {
	var kind string
	_ = msg.Decode(&kind)

	destination := module.MessageFatalLog
	if kind == CrashAssertion {
		destination = module.MessageAssertionFailed
	}

	d.mu.Lock()
	d.crashed = true
	d.mu.Unlock()

	d.logger.Warn("simulated crash", zap.String("signal", destination))
	if err := ch.SendValue(destination, "simulated "+kind); err != nil {
		d.logger.Debug("crash signal not sent", zap.Error(err))
	}
}

func (d *Daemon) isCrashed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crashed
}
