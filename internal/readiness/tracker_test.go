package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attached(t *testing.T) (*channel.Channel, channel.Transport) {
	t.Helper()
	local, remote := channel.Pipe()
	ch := channel.New()
	require.NoError(t, ch.Attach(local))
	t.Cleanup(func() { ch.Close() })
	return ch, remote
}

func TestReadyResolvesOnce(t *testing.T) {
	ch, remote := attached(t)
	tracker, err := New(ch)
	require.NoError(t, err)
	assert.False(t, tracker.IsReady())

	require.NoError(t, remote.Send(channel.Message{Destination: MessageReady}))
	require.NoError(t, remote.Send(channel.Message{Destination: MessageReady}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tracker.Wait(ctx))
	assert.True(t, tracker.IsReady())

	// disposal after readiness does not undo it
	tracker.Dispose()
	assert.True(t, tracker.IsReady())
	assert.NoError(t, tracker.Wait(ctx))
}

func TestDisposeBeforeReady(t *testing.T) {
	ch, remote := attached(t)
	tracker, err := New(ch)
	require.NoError(t, err)

	tracker.Dispose()
	tracker.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, tracker.Wait(ctx), ErrDisposed)

	// the destination is unregistered, so a late signal goes nowhere
	require.NoError(t, remote.Send(channel.Message{Destination: MessageReady}))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tracker.IsReady())
}

func TestLateSignalAfterDisposeIgnored(t *testing.T) {
	ch := channel.New()
	defer ch.Close()
	tracker, err := New(ch)
	require.NoError(t, err)

	tracker.Dispose()
	tracker.onReady(channel.Message{Destination: MessageReady})
	assert.False(t, tracker.IsReady())
}

func TestWaitHonoursContext(t *testing.T) {
	ch := channel.New()
	defer ch.Close()
	tracker, err := New(ch)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.Wait(ctx), context.DeadlineExceeded)
}

func TestSecondTrackerOnSameChannelFails(t *testing.T) {
	ch := channel.New()
	defer ch.Close()
	_, err := New(ch)
	require.NoError(t, err)

	_, err = New(ch)
	assert.ErrorIs(t, err, channel.ErrServiceRegistered)
}
