package module

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test. It is the child side of the process
// backend tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	tr := channel.NewStreamTransport(os.Stdin, os.Stdout)
	fmt.Fprintln(os.Stderr, "helper started")

	switch os.Getenv("HELPER_MODE") {
	case "crash":
		msg, _ := channel.NewMessage(MessageFatalLog, "daemon gave up")
		_ = tr.Send(msg)
		// keep running; the front end must still treat this as fatal
		for {
			if _, err := tr.Receive(); err != nil {
				return
			}
		}
	case "exit":
		os.Exit(3)
	default:
		for {
			msg, err := tr.Receive()
			if err != nil {
				return
			}
			if msg.Destination == "echo" {
				_ = tr.Send(channel.Message{Destination: "echoed", Payload: msg.Payload})
			}
		}
	}
}

func helperBackend(mode string) *ProcessBackend {
	return &ProcessBackend{
		Path:        os.Args[0],
		Args:        []string{"-test.run=TestHelperProcess"},
		Env:         []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		GracePeriod: time.Second,
	}
}

func TestProcessBackendEcho(t *testing.T) {
	m := New(helperBackend("echo"))

	got := make(chan string, 1)
	require.NoError(t, m.Channel().RegisterService("echoed", func(msg channel.Message) {
		var s string
		_ = msg.Decode(&s)
		got <- s
	}))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Channel().SendValue("echo", "over stdio"))

	select {
	case s := <-got:
		assert.Equal(t, "over stdio", s)
	case <-time.After(5 * time.Second):
		t.Fatal("no echo from child process")
	}

	m.Dispose()
	assert.Equal(t, StateDisposedClean, m.State())
}

func TestProcessBackendFatalLog(t *testing.T) {
	m := New(helperBackend("crash"))
	require.NoError(t, m.Start(context.Background()))

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("fatal_log did not dispose the module")
	}
	assert.Equal(t, StateDisposedFaulted, m.State())
}

func TestProcessBackendUnexpectedExit(t *testing.T) {
	m := New(helperBackend("exit"))
	require.NoError(t, m.Start(context.Background()))

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process exit did not dispose the module")
	}
	assert.Equal(t, StateDisposedFaulted, m.State())
}

func TestProcessBackendMissingBinary(t *testing.T) {
	m := New(&ProcessBackend{Path: "/nonexistent/pcscd-bridge"})
	assert.Error(t, m.Start(context.Background()))
	assert.Equal(t, StateDisposedFaulted, m.State())
}
