package pcsc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnCodeResult(t *testing.T) {
	tests := []struct {
		code ReturnCode
		want ResultCode
	}{
		{Success, ResultSuccess},
		{ErrInvalidHandle, ResultInvalidHandle},
		{ErrNoReadersAvailable, ResultNoReadersAvailable},
		{ErrNoService, ResultNoService},
		{ErrTimeout, ResultTimeout},
		{ErrCancelled, ResultCancelled},
		{WarnRemovedCard, ResultRemovedCard},
		{ReturnCode(0x12345678), ResultUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Result())
		})
	}
}

func TestReturnCodeError(t *testing.T) {
	var err error = ErrTimeout
	assert.Equal(t, "pcsc: TIMEOUT (0x8010000A)", err.Error())
}

func TestReaderStateFlags(t *testing.T) {
	state := WithEventCount(StatePresent|StateChanged|StateInUse, 7)
	flags := FlagsFromState(state)

	assert.True(t, flags.Present)
	assert.True(t, flags.Changed)
	assert.True(t, flags.InUse)
	assert.False(t, flags.Empty)
	assert.False(t, flags.Unaware)
	assert.Equal(t, uint32(7), EventCount(state))
	assert.Equal(t, StatePresent|StateChanged|StateInUse, flags.State())

	assert.True(t, FlagsFromState(WithEventCount(StateUnaware, 3)).Unaware)
}

func TestReaderStateInNative(t *testing.T) {
	in := ReaderStateIn{Reader: PnPNotification, CurrentState: ReaderStateFlags{Unaware: true}, CurrentCount: 2}
	native := in.Native()
	assert.Equal(t, PnPNotification, native.ReaderName)
	assert.Equal(t, uint32(2), EventCount(native.CurrentState))
	assert.Equal(t, StateUnaware, native.CurrentState&0xFFFF)
}

func TestReaderStateOutJSON(t *testing.T) {
	out := ReaderStateOutFrom(NativeReaderState{ReaderName: PnPNotification, EventState: StateChanged})
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"reader": "\\\\?PnP?\\Notification",
		"eventState": {"changed": true},
		"eventCount": 0,
		"atr": []
	}`, string(data))
}

func TestBytesJSON(t *testing.T) {
	data, err := json.Marshal(Bytes{0x3B, 0x00, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, "[59,0,255]", string(data))

	var b Bytes
	require.NoError(t, json.Unmarshal([]byte("[144, 0]"), &b))
	assert.Equal(t, Bytes{0x90, 0x00}, b)

	assert.Error(t, json.Unmarshal([]byte("[256]"), &b))
	assert.Error(t, json.Unmarshal([]byte(`"AQI="`), &b))
}

func TestRemoteCallArgs(t *testing.T) {
	call, err := NewCall(FnConnect, Handle(5), "Reader 00 00", ShareShared, ProtocolT1)
	require.NoError(t, err)
	assert.Equal(t, "SCardConnect(4 args)", call.String())

	var (
		ctx       Handle
		reader    string
		share     uint32
		protocols uint32
		extra     = uint32(99)
	)
	require.NoError(t, call.Args(&ctx, &reader, &share, &protocols, &extra))
	assert.Equal(t, Handle(5), ctx)
	assert.Equal(t, "Reader 00 00", reader)
	assert.Equal(t, ShareShared, share)
	assert.Equal(t, ProtocolT1, protocols)
	assert.Equal(t, uint32(99), extra, "missing argument must leave destination alone")
}

func TestDecodeResult(t *testing.T) {
	raw, err := json.Marshal(Result(Success, Handle(42), ProtocolT0))
	require.NoError(t, err)

	var card Handle
	var protocol uint32
	code, err := DecodeResult(raw, &card, &protocol)
	require.NoError(t, err)
	assert.Equal(t, Success, code)
	assert.Equal(t, Handle(42), card)
	assert.Equal(t, ProtocolT0, protocol)

	raw, err = json.Marshal(Result(ErrNoSmartcard, Handle(1)))
	require.NoError(t, err)
	code, err = DecodeResult(raw, &card)
	require.NoError(t, err)
	assert.Equal(t, ErrNoSmartcard, code)

	_, err = DecodeResult(json.RawMessage(`[0]`), &card)
	assert.Error(t, err)
	_, err = DecodeResult(json.RawMessage(`[]`))
	assert.Error(t, err)
}

func TestEnumsRoundTrip(t *testing.T) {
	v, ok := ShareModeExclusive.Value()
	assert.True(t, ok)
	assert.Equal(t, ShareExclusive, v)
	_, ok = ShareMode("BOGUS").Value()
	assert.False(t, ok)

	d, ok := DispositionUnpower.Value()
	assert.True(t, ok)
	assert.Equal(t, UnpowerCard, d)

	assert.Equal(t, ProtocolNameT1, ProtocolFromMask(ProtocolT1))
	assert.Equal(t, ProtocolRaw, ProtocolNameRaw.Mask())
	assert.Equal(t, ProtocolT0|ProtocolRaw, Protocols{T0: true, Raw: true}.Mask())

	assert.Equal(t, ConnectionSpecific, ConnectionStateFrom(CardPresent|CardPowered|CardSpecific))
	assert.Equal(t, ConnectionAbsent, ConnectionStateFrom(0))

	ms := uint32(250)
	assert.Equal(t, uint32(250), Timeout{Milliseconds: &ms}.Value())
	assert.Equal(t, Infinite, Timeout{}.Value())
}
