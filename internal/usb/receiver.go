package usb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/requester"
	"go.uber.org/zap"
)

// Call is a libusb request payload.
type Call struct {
	FunctionName string            `json:"function_name"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
}

func handle(ctx context.Context, lister Lister, payload json.RawMessage) (interface{}, error) {
	var call Call
	if err := channel.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("decode libusb call: %w", err)
	}
	switch call.FunctionName {
	case FnListDevices:
		return lister.ListDevices(ctx)
	default:
		return nil, fmt.Errorf("libusb function %q is not supported", call.FunctionName)
	}
}

// NewReceiver answers the backend's libusb requests from lister.
func NewReceiver(conn requester.Conn, lister Lister, logger *zap.Logger) (*requester.Receiver, error) {
	if lister == nil {
		lister = NoDevices{}
	}
	return requester.NewReceiver(RequesterName, conn, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		return handle(ctx, lister, payload)
	}, logger)
}

// SimulationHook answers libusb requests from a simulated device set before
// they reach the real receiver. Requests it cannot answer pass through.
type SimulationHook struct {
	logger *zap.Logger

	mu      sync.RWMutex
	devices []Device
}

// NewSimulationHook creates a hook seeded with devices.
func NewSimulationHook(devices []Device, logger *zap.Logger) *SimulationHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &SimulationHook{logger: logger}
	h.SetDevices(devices)
	return h
}

// SetDevices replaces the simulated device set. The backend sees the change
// on its next poll.
func (h *SimulationHook) SetDevices(devices []Device) {
	cp := make([]Device, len(devices))
	copy(cp, devices)

	h.mu.Lock()
	h.devices = cp
	h.mu.Unlock()

	h.logger.Info("simulated devices updated", zap.Int("count", len(cp)))
}

// ListDevices returns the current simulated set.
func (h *SimulationHook) ListDevices(context.Context) ([]Device, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Device, len(h.devices))
	copy(out, h.devices)
	return out, nil
}

// Intercept implements channel.Hook.
func (h *SimulationHook) Intercept(msg channel.Message, reply channel.Sender) channel.Verdict {
	if msg.Destination != requester.RequestDestination(RequesterName) {
		return channel.Pass()
	}

	id, payload, err := requester.DecodeRequest(msg)
	if err != nil {
		return channel.Pass()
	}
	var call Call
	if err := channel.Unmarshal(payload, &call); err != nil || call.FunctionName != FnListDevices {
		return channel.Pass()
	}

	devices, _ := h.ListDevices(context.Background())
	resp, err := requester.ResponseMessage(RequesterName, id, devices, nil)
	if err != nil {
		h.logger.Warn("simulated response not built", zap.Error(err))
		return channel.Pass()
	}
	if err := reply.Send(resp); err != nil {
		h.logger.Debug("simulated response not sent", zap.Error(err))
	}
	return channel.Consume()
}
