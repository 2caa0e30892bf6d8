package channel

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTransportRoundTrip(t *testing.T) {
	// front end writes into ab, backend reads ab; backend writes ba.
	abR, abW := io.Pipe()
	baR, baW := io.Pipe()

	front := NewStreamTransport(baR, abW, abW, baR)
	back := NewStreamTransport(abR, baW, baW, abR)
	defer front.Close()
	defer back.Close()

	msg, err := NewMessage("pcsc_lite_ready", map[string]int{"n": 1})
	require.NoError(t, err)

	go func() { _ = front.Send(msg) }()

	got, err := back.Receive()
	require.NoError(t, err)
	assert.Equal(t, "pcsc_lite_ready", got.Destination)

	var payload map[string]int
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, 1, payload["n"])
}

func TestStreamTransportFramesAreLines(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTransport(strings.NewReader(""), &buf)

	require.NoError(t, tr.Send(Message{Destination: "a"}))
	require.NoError(t, tr.Send(Message{Destination: "b"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"a"`)
}

func TestStreamTransportReceive(t *testing.T) {
	input := "\n" + `{"type":"x","data":{"k":"v"}}` + "\n" + `{"type":"y"}`
	tr := NewStreamTransport(strings.NewReader(input), io.Discard)

	first, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "x", first.Destination)

	second, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "y", second.Destination)

	_, err = tr.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamTransportRejectsGarbage(t *testing.T) {
	tr := NewStreamTransport(strings.NewReader("not json\n"), io.Discard)
	_, err := tr.Receive()
	assert.Error(t, err)

	tr = NewStreamTransport(strings.NewReader(`{"data":1}`+"\n"), io.Discard)
	_, err = tr.Receive()
	assert.Error(t, err)
}

func TestPipeCloseIsShared(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.Close())

	_, err := b.Receive()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, b.Send(Message{Destination: "x"}), ErrClosed)
}

func TestMessageDecodeEmpty(t *testing.T) {
	var v int
	assert.Error(t, Message{Destination: "x"}.Decode(&v))

	_, err := NewMessage("", 1)
	assert.ErrorIs(t, err, ErrNoDestination)
}
