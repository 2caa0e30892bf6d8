package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/module"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcscsim"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/provider"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/readiness"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/requester"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type simBackend struct {
	module  *module.Module
	tracker *readiness.Tracker
	calls   *requester.Requester
}

func (b *simBackend) Backend() (provider.Deps, error) {
	if b.module.IsDisposed() {
		return provider.Deps{}, errors.New("backend not running")
	}
	return provider.Deps{Module: b.module, Readiness: b.tracker, Calls: b.calls}, nil
}

func startBackend(t *testing.T, devices ...usb.Device) *simBackend {
	t.Helper()

	daemon := pcscsim.New(pcscsim.WithPollInterval(10 * time.Millisecond))
	m := module.New(module.NewInProcessBackend(daemon.Serve))
	t.Cleanup(m.Dispose)

	m.Channel().AddHook(usb.NewSimulationHook(devices, nil))
	_, err := usb.NewReceiver(m.Channel(), nil, nil)
	require.NoError(t, err)
	tracker, err := readiness.New(m.Channel())
	require.NoError(t, err)
	t.Cleanup(tracker.Dispose)
	calls, err := requester.New(pcsc.RequesterName, m.Channel())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, m.Start(ctx))

	return &simBackend{module: m, tracker: tracker, calls: calls}
}

func serve(t *testing.T, backends BackendSource, cfg Config) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/ws", NewHandler(backends, cfg).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, err := codec.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, codec.Unmarshal(data, &out))
	return out
}

func TestSessionEstablishAndListReaders(t *testing.T) {
	backend := startBackend(t, usb.Device{ID: 123, Type: usb.GemaltoPcTwinReader})
	conn := dial(t, serve(t, backend, DefaultConfig()))

	established := roundTrip(t, conn, map[string]interface{}{
		"event": "onEstablishContextRequested", "requestId": 123,
	})
	assert.Equal(t, "reportEstablishContextResult", established["function"])
	assert.EqualValues(t, 123, established["requestId"])
	assert.Equal(t, "SUCCESS", established["resultCode"])
	require.NotZero(t, established["sCardContext"])

	listed := roundTrip(t, conn, map[string]interface{}{
		"event": "onListReadersRequested", "requestId": 124, "sCardContext": established["sCardContext"],
	})
	assert.Equal(t, "reportListReadersResult", listed["function"])
	assert.Equal(t, "SUCCESS", listed["resultCode"])
	assert.Equal(t, []interface{}{"Gemalto PC Twin Reader 00 00"}, listed["readers"])

	released := roundTrip(t, conn, map[string]interface{}{
		"event": "onReleaseContextRequested", "requestId": 125, "sCardContext": 42,
	})
	assert.Equal(t, "INVALID_HANDLE", released["resultCode"])
}

func TestSessionsAreIsolated(t *testing.T) {
	backend := startBackend(t)
	url := serve(t, backend, DefaultConfig())
	first := dial(t, url)
	second := dial(t, url)

	established := roundTrip(t, first, map[string]interface{}{
		"event": "onEstablishContextRequested", "requestId": 1,
	})
	require.Equal(t, "SUCCESS", established["resultCode"])

	// the other session does not own the context
	listed := roundTrip(t, second, map[string]interface{}{
		"event": "onListReadersRequested", "requestId": 2, "sCardContext": established["sCardContext"],
	})
	assert.Equal(t, "INVALID_HANDLE", listed["resultCode"])
	assert.Equal(t, []interface{}{}, listed["readers"])
}

func TestPingAndBadFrames(t *testing.T) {
	backend := startBackend(t)
	conn := dial(t, serve(t, backend, DefaultConfig()))

	pong := roundTrip(t, conn, map[string]interface{}{"event": "ping"})
	assert.Equal(t, "pong", pong["function"])

	unknown := roundTrip(t, conn, map[string]interface{}{"event": "onFly", "requestId": 9})
	assert.Equal(t, "error", unknown["function"])
	assert.EqualValues(t, 9, unknown["requestId"])
	assert.Contains(t, unknown["message"], "unknown event")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	garbage := read(t, conn)
	assert.Equal(t, "error", garbage["function"])
	assert.Contains(t, garbage["message"], "malformed frame")
}

func TestFrameRateLimit(t *testing.T) {
	backend := startBackend(t)
	cfg := DefaultConfig()
	cfg.FramesPerSecond = 0.001
	cfg.FrameBurst = 1
	conn := dial(t, serve(t, backend, cfg))

	first := roundTrip(t, conn, map[string]interface{}{"event": "onReleaseContextRequested", "requestId": 1, "sCardContext": 5})
	assert.Equal(t, "INVALID_HANDLE", first["resultCode"])

	limited := roundTrip(t, conn, map[string]interface{}{"event": "onReleaseContextRequested", "requestId": 2, "sCardContext": 5})
	assert.Equal(t, "error", limited["function"])
	assert.Equal(t, "rate limit exceeded", limited["message"])
}

func TestNoBackendRefusesUpgrade(t *testing.T) {
	backend := startBackend(t)
	backend.module.Dispose()
	url := serve(t, backend, DefaultConfig())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOriginCheck(t *testing.T) {
	backend := startBackend(t)
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"chrome-extension://allowed"}
	url := serve(t, backend, cfg)

	header := http.Header{"Origin": {"https://elsewhere.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "chrome-extension://allowed")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestBackendGoneClosesSession(t *testing.T) {
	backend := startBackend(t)
	conn := dial(t, serve(t, backend, DefaultConfig()))

	established := roundTrip(t, conn, map[string]interface{}{
		"event": "onEstablishContextRequested", "requestId": 1,
	})
	require.Equal(t, "SUCCESS", established["resultCode"])

	backend.module.Dispose()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
}

func TestBackendGoneReportsPendingBeforeClosing(t *testing.T) {
	backend := startBackend(t, usb.Device{ID: 1, Type: usb.GemaltoPcTwinReader})
	conn := dial(t, serve(t, backend, DefaultConfig()))

	established := roundTrip(t, conn, map[string]interface{}{
		"event": "onEstablishContextRequested", "requestId": 1,
	})
	require.Equal(t, "SUCCESS", established["resultCode"])

	// no timeout and an unchanged reader: the daemon never answers
	data, err := codec.Marshal(map[string]interface{}{
		"event":        "onGetStatusChangeRequested",
		"requestId":    2,
		"sCardContext": established["sCardContext"],
		"timeout":      map[string]interface{}{},
		"readerStates": []interface{}{
			map[string]interface{}{"reader": "Gemalto PC Twin Reader 00 00", "currentState": map[string]interface{}{"empty": true}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	time.Sleep(100 * time.Millisecond)

	backend.module.Dispose()

	pending := read(t, conn)
	assert.Equal(t, "reportGetStatusChangeResult", pending["function"])
	assert.EqualValues(t, 2, pending["requestId"])
	assert.Equal(t, "NO_SERVICE", pending["resultCode"])

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
}

func TestDecodeFrame(t *testing.T) {
	_, event, err := decodeFrame([]byte(`{"event":"onTransmitRequested","requestId":7,"sCardHandle":3,"protocol":"T1","data":[0,164,4,0]}`))
	require.NoError(t, err)

	transmit, ok := event.(provider.TransmitRequested)
	require.True(t, ok)
	assert.Equal(t, provider.RequestID(7), transmit.RequestID)
	assert.Equal(t, pcsc.Handle(3), transmit.Handle)
	assert.Equal(t, pcsc.ProtocolNameT1, transmit.Protocol)
	assert.Equal(t, pcsc.Bytes{0x00, 0xA4, 0x04, 0x00}, transmit.Data)

	_, _, err = decodeFrame([]byte(`{"event":"onTransmitRequested","requestId":7,"data":[300]}`))
	assert.Error(t, err)
}
