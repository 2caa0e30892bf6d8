package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/module"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/provider"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/readiness"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/requester"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
)

// Runtime is one backend run with everything bound to its channel.
type Runtime struct {
	Module  *module.Module
	Tracker *readiness.Tracker
	Calls   *requester.Requester

	devices *requester.Receiver
	started time.Time
}

// Deps returns the provider dependencies served by this run.
func (r *Runtime) Deps() provider.Deps {
	return provider.Deps{Module: r.Module, Readiness: r.Tracker, Calls: r.Calls}
}

// release tears down the bindings once the module is gone.
func (r *Runtime) release() {
	r.Tracker.Dispose()
	r.Calls.Dispose()
	r.devices.Close()
}

// launch builds a module from the factory, binds the libusb receiver,
// readiness tracker and PC/SC requester to its channel, then starts it.
// Bindings are registered before Start so no early message is lost.
func (s *Supervisor) launch(ctx context.Context) (*Runtime, error) {
	m := module.New(s.factory(), module.WithLogger(s.logger), module.WithMetrics(s.metrics))
	if s.hook != nil {
		m.Channel().AddHook(s.hook)
	}

	devices, err := usb.NewReceiver(m.Channel(), s.lister, s.logger)
	if err != nil {
		m.Dispose()
		return nil, fmt.Errorf("usb receiver: %w", err)
	}
	tracker, err := readiness.New(m.Channel(), readiness.WithLogger(s.logger))
	if err != nil {
		devices.Close()
		m.Dispose()
		return nil, fmt.Errorf("readiness tracker: %w", err)
	}
	calls, err := requester.New(pcsc.RequesterName, m.Channel(),
		requester.WithLogger(s.logger),
		requester.WithMetrics(s.metrics),
	)
	if err != nil {
		tracker.Dispose()
		devices.Close()
		m.Dispose()
		return nil, fmt.Errorf("pcsc requester: %w", err)
	}

	rt := &Runtime{Module: m, Tracker: tracker, Calls: calls, devices: devices}

	startCtx, cancel := context.WithTimeout(ctx, s.settings.StartTimeout)
	defer cancel()
	if err := m.Start(startCtx); err != nil {
		m.Dispose()
		rt.release()
		return nil, err
	}
	rt.started = s.now()
	return rt, nil
}
