package pcsc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
)

// RequesterName is the requester both ends use for PC/SC remote calls.
const RequesterName = "pcsc_lite_function_call"

// Remote function names.
const (
	FnEstablishContext = "SCardEstablishContext"
	FnReleaseContext   = "SCardReleaseContext"
	FnListReaders      = "SCardListReaders"
	FnGetStatusChange  = "SCardGetStatusChange"
	FnCancel           = "SCardCancel"
	FnConnect          = "SCardConnect"
	FnDisconnect       = "SCardDisconnect"
	FnTransmit         = "SCardTransmit"
	FnControl          = "SCardControl"
	FnGetAttrib        = "SCardGetAttrib"
	FnSetAttrib        = "SCardSetAttrib"
	FnStatus           = "SCardStatus"
	FnBeginTransaction = "SCardBeginTransaction"
	FnEndTransaction   = "SCardEndTransaction"
)

// Handle is an SCARDCONTEXT or SCARDHANDLE value.
type Handle int32

// Bytes is binary data carried as a JSON array of byte values, the way the
// daemon and the browser API both exchange buffers.
type Bytes []byte

// MarshalJSON encodes b as an array of numbers. nil encodes as [].
func (b Bytes) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

// UnmarshalJSON decodes an array of numbers in the byte range.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var values []int
	if err := channel.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("bytes: %w", err)
	}
	out := make(Bytes, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return fmt.Errorf("bytes: value %d at index %d out of range", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// NativeReaderState is the daemon's SCARD_READERSTATE.
type NativeReaderState struct {
	ReaderName   string `json:"reader_name"`
	CurrentState uint32 `json:"current_state"`
	EventState   uint32 `json:"event_state,omitempty"`
	Atr          Bytes  `json:"atr,omitempty"`
}

// IORequest is the daemon's SCARD_IO_REQUEST.
type IORequest struct {
	Protocol uint32 `json:"protocol"`
}

// ReaderStateIn is one caller-facing GetStatusChange input.
type ReaderStateIn struct {
	Reader       string           `json:"reader"`
	CurrentState ReaderStateFlags `json:"currentState"`
	CurrentCount uint32           `json:"currentCount"`
}

// Native converts the input to the daemon's form.
func (s ReaderStateIn) Native() NativeReaderState {
	return NativeReaderState{
		ReaderName:   s.Reader,
		CurrentState: WithEventCount(s.CurrentState.State(), s.CurrentCount),
	}
}

// ReaderStateOut is one caller-facing GetStatusChange output.
type ReaderStateOut struct {
	Reader     string           `json:"reader"`
	EventState ReaderStateFlags `json:"eventState"`
	EventCount uint32           `json:"eventCount"`
	Atr        Bytes            `json:"atr"`
}

// ReaderStateOutFrom converts a daemon reader state for the caller.
func ReaderStateOutFrom(n NativeReaderState) ReaderStateOut {
	atr := n.Atr
	if atr == nil {
		atr = Bytes{}
	}
	return ReaderStateOut{
		Reader:     n.ReaderName,
		EventState: FlagsFromState(n.EventState),
		EventCount: EventCount(n.EventState),
		Atr:        atr,
	}
}

// RemoteCall is the payload of a PC/SC remote call request.
type RemoteCall struct {
	FunctionName string            `json:"function_name"`
	Arguments    []json.RawMessage `json:"arguments"`
}

// NewCall encodes args for function.
func NewCall(function string, args ...interface{}) (RemoteCall, error) {
	call := RemoteCall{FunctionName: function, Arguments: make([]json.RawMessage, len(args))}
	for i, arg := range args {
		raw, err := channel.Marshal(arg)
		if err != nil {
			return RemoteCall{}, fmt.Errorf("%s argument %d: %w", function, i, err)
		}
		call.Arguments[i] = raw
	}
	return call, nil
}

// Args decodes the call's arguments into dst, in order. A missing or null
// argument leaves its destination unchanged.
func (c RemoteCall) Args(dst ...interface{}) error {
	for i, d := range dst {
		if i >= len(c.Arguments) || string(c.Arguments[i]) == "null" {
			continue
		}
		if err := channel.Unmarshal(c.Arguments[i], d); err != nil {
			return fmt.Errorf("%s argument %d: %w", c.FunctionName, i, err)
		}
	}
	return nil
}

// String implements fmt.Stringer for logs
func (c RemoteCall) String() string {
	return fmt.Sprintf("%s(%d args)", c.FunctionName, len(c.Arguments))
}

// Result builds a call result array: the return code followed by outputs.
// Outputs are omitted when code is not Success.
func Result(code ReturnCode, outs ...interface{}) []interface{} {
	if code != Success {
		return []interface{}{uint32(code)}
	}
	return append([]interface{}{uint32(code)}, outs...)
}

// DecodeResult reads a call result array. Outputs are decoded only when the
// return code is Success.
func DecodeResult(raw json.RawMessage, outs ...interface{}) (ReturnCode, error) {
	var items []json.RawMessage
	if err := channel.Unmarshal(raw, &items); err != nil {
		return 0, fmt.Errorf("decode call result: %w", err)
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("decode call result: empty")
	}

	var code int64
	if err := channel.Unmarshal(items[0], &code); err != nil {
		return 0, fmt.Errorf("decode return code: %w", err)
	}
	rc := ReturnCode(uint32(code))
	if rc != Success {
		return rc, nil
	}

	if len(items)-1 < len(outs) {
		return rc, fmt.Errorf("decode call result: want %d outputs, got %d", len(outs), len(items)-1)
	}
	for i, out := range outs {
		if err := channel.Unmarshal(items[i+1], out); err != nil {
			return rc, fmt.Errorf("decode output %d: %w", i, err)
		}
	}
	return rc, nil
}
