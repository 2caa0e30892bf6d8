package channel

import (
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func receiveN(t *testing.T, tr Transport, n int) []Message {
	t.Helper()
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := tr.Receive()
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestSendPreservesOrder(t *testing.T) {
	local, remote := Pipe()
	ch := New()
	require.NoError(t, ch.Attach(local))
	defer ch.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, ch.SendValue("seq", i))
	}

	msgs := receiveN(t, remote, 100)
	for i, msg := range msgs {
		var got int
		require.NoError(t, msg.Decode(&got))
		assert.Equal(t, i, got)
	}
}

func TestSendBeforeAttachIsQueued(t *testing.T) {
	ch := New()
	require.NoError(t, ch.SendValue("early", "first"))
	require.NoError(t, ch.SendValue("early", "second"))

	local, remote := Pipe()
	require.NoError(t, ch.Attach(local))
	defer ch.Close()

	msgs := receiveN(t, remote, 2)
	var first, second string
	require.NoError(t, msgs[0].Decode(&first))
	require.NoError(t, msgs[1].Decode(&second))
	assert.Equal(t, "first", first)
	assert.Equal(t, "second", second)
}

func TestAttachTwice(t *testing.T) {
	ch := New()
	a, _ := Pipe()
	b, _ := Pipe()
	require.NoError(t, ch.Attach(a))
	assert.ErrorIs(t, ch.Attach(b), ErrAlreadyAttached)
	ch.Close()
}

func TestSendAfterCloseIsRejected(t *testing.T) {
	ch := New()
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	assert.ErrorIs(t, ch.SendValue("late", 1), ErrClosed)
	assert.NoError(t, ch.Err())

	local, _ := Pipe()
	assert.ErrorIs(t, ch.Attach(local), ErrClosed)
}

func TestSendRequiresDestination(t *testing.T) {
	ch := New()
	defer ch.Close()
	assert.ErrorIs(t, ch.Send(Message{}), ErrNoDestination)
}

func TestServiceRouting(t *testing.T) {
	local, remote := Pipe()
	ch := New()

	got := make(chan string, 2)
	require.NoError(t, ch.RegisterService("a", func(msg Message) { got <- "a:" + msg.Destination }))
	ch.OnMessage(func(msg Message) { got <- "default:" + msg.Destination })
	assert.ErrorIs(t, ch.RegisterService("a", func(Message) {}), ErrServiceRegistered)

	require.NoError(t, ch.Attach(local))
	defer ch.Close()

	require.NoError(t, remote.Send(Message{Destination: "a"}))
	require.NoError(t, remote.Send(Message{Destination: "b"}))

	assert.Equal(t, "a:a", <-got)
	assert.Equal(t, "default:b", <-got)
}

func TestHooksRunInOrderAndConsume(t *testing.T) {
	local, remote := Pipe()
	ch := New()

	var mu sync.Mutex
	var trace []string
	record := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}

	ch.AddHook(HookFunc(func(msg Message, _ Sender) Verdict {
		record("first:" + msg.Destination)
		if msg.Destination == "rename" {
			return Replace(Message{Destination: "renamed"})
		}
		return Pass()
	}))
	ch.AddHook(HookFunc(func(msg Message, reply Sender) Verdict {
		record("second:" + msg.Destination)
		if msg.Destination == "answer" {
			_ = reply.Send(Message{Destination: "answered"})
			return Consume()
		}
		return Pass()
	}))

	delivered := make(chan string, 4)
	ch.OnMessage(func(msg Message) { delivered <- msg.Destination })
	require.NoError(t, ch.Attach(local))
	defer ch.Close()

	require.NoError(t, remote.Send(Message{Destination: "rename"}))
	assert.Equal(t, "renamed", <-delivered)

	require.NoError(t, remote.Send(Message{Destination: "answer"}))
	reply, err := remote.Receive()
	require.NoError(t, err)
	assert.Equal(t, "answered", reply.Destination)

	require.NoError(t, remote.Send(Message{Destination: "plain"}))
	assert.Equal(t, "plain", <-delivered)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"first:rename", "second:renamed",
		"first:answer", "second:answer",
		"first:plain", "second:plain",
	}, trace)
}

func TestPeerCloseFailsChannel(t *testing.T) {
	local, remote := Pipe()
	ch := New()
	require.NoError(t, ch.Attach(local))

	require.NoError(t, remote.Close())

	select {
	case <-ch.Done():
	case <-time.After(waitFor):
		t.Fatal("channel did not observe peer close")
	}
	assert.ErrorIs(t, ch.Err(), io.EOF)
	assert.ErrorIs(t, ch.SendValue("x", 1), ErrClosed)
}

func TestNoDispatchAfterClose(t *testing.T) {
	local, remote := Pipe()
	ch := New()

	calls := make(chan struct{}, 10)
	require.NoError(t, ch.RegisterService("m", func(Message) { calls <- struct{}{} }))
	require.NoError(t, ch.Attach(local))

	require.NoError(t, remote.Send(Message{Destination: "m"}))
	<-calls
	ch.Close()

	_ = remote.Send(Message{Destination: "m"})
	select {
	case <-calls:
		t.Fatal("message dispatched after close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConcurrentSenders(t *testing.T) {
	local, remote := Pipe()
	ch := New()
	require.NoError(t, ch.Attach(local))
	defer ch.Close()

	const senders, perSender = 4, 50
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_ = ch.SendValue("s"+strconv.Itoa(s), i)
			}
		}(s)
	}

	last := map[string]int{}
	for _, msg := range receiveN(t, remote, senders*perSender) {
		var n int
		require.NoError(t, msg.Decode(&n))
		prev, seen := last[msg.Destination]
		if seen {
			assert.Greater(t, n, prev, "per-sender order broken for %s", msg.Destination)
		}
		last[msg.Destination] = n
	}
	wg.Wait()
}
