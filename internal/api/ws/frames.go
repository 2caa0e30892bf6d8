package ws

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/provider"
	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

// Client frame names. Every request frame carries "event" and "requestId"
// next to the fields of its event.
const (
	FramePing = "ping"
	FramePong = "pong"

	FunctionError = "error"
)

type frameHeader struct {
	Event     string             `json:"event"`
	RequestID provider.RequestID `json:"requestId"`
}

func decodeAs[E provider.Event](data []byte) (provider.Event, error) {
	var e E
	if err := codec.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

var decoders = map[string]func([]byte) (provider.Event, error){
	"onEstablishContextRequested": decodeAs[provider.EstablishContextRequested],
	"onReleaseContextRequested":   decodeAs[provider.ReleaseContextRequested],
	"onListReadersRequested":      decodeAs[provider.ListReadersRequested],
	"onGetStatusChangeRequested":  decodeAs[provider.GetStatusChangeRequested],
	"onCancelRequested":           decodeAs[provider.CancelRequested],
	"onConnectRequested":          decodeAs[provider.ConnectRequested],
	"onDisconnectRequested":       decodeAs[provider.DisconnectRequested],
	"onTransmitRequested":         decodeAs[provider.TransmitRequested],
	"onControlRequested":          decodeAs[provider.ControlRequested],
	"onGetAttribRequested":        decodeAs[provider.GetAttribRequested],
	"onSetAttribRequested":        decodeAs[provider.SetAttribRequested],
	"onStatusRequested":           decodeAs[provider.StatusRequested],
	"onBeginTransactionRequested": decodeAs[provider.BeginTransactionRequested],
	"onEndTransactionRequested":   decodeAs[provider.EndTransactionRequested],
}

// decodeFrame reads a client frame. It returns a nil event for ping frames.
func decodeFrame(data []byte) (frameHeader, provider.Event, error) {
	var header frameHeader
	if err := codec.Unmarshal(data, &header); err != nil {
		return header, nil, fmt.Errorf("malformed frame: %w", err)
	}
	if header.Event == FramePing {
		return header, nil, nil
	}

	decode, ok := decoders[header.Event]
	if !ok {
		return header, nil, fmt.Errorf("unknown event %q", header.Event)
	}
	event, err := decode(data)
	if err != nil {
		return header, nil, fmt.Errorf("malformed %s: %w", header.Event, err)
	}
	return header, event, nil
}

// reportFrame builds a report for function with extra fields merged in
func reportFrame(function string, id provider.RequestID, code interface{}, fields map[string]interface{}) map[string]interface{} {
	frame := map[string]interface{}{
		"function":   function,
		"requestId":  id,
		"resultCode": code,
	}
	for k, v := range fields {
		frame[k] = v
	}
	return frame
}

func errorFrame(id provider.RequestID, message string) map[string]interface{} {
	frame := map[string]interface{}{
		"function":  FunctionError,
		"message":   message,
		"timestamp": time.Now().Unix(),
	}
	if id != 0 {
		frame["requestId"] = id
	}
	return frame
}
