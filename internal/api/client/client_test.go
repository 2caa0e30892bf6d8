package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
)

func fastRetry(unavailable bool) RetryConfig {
	return RetryConfig{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond, RetryUnavailable: unavailable}
}

func TestHealthWaitsForReadiness(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"status":"unavailable","backend":{"state":"loading"}}`)
			return
		}
		io.WriteString(w, `{"status":"ok","backend":{"state":"running","ready":true,"runs":1}}`)
	}))
	defer srv.Close()

	health, err := New(srv.URL, fastRetry(true)).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Backend.Ready)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHealthUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"status":"unavailable","backend":{"state":"faulted","restartGuard":"open"}}`)
	}))
	defer srv.Close()

	health, err := New(srv.URL, fastRetry(false)).Health(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "faulted", health.Backend.State)
	assert.Equal(t, "open", health.Backend.Guard)
}

func TestDevices(t *testing.T) {
	var stored string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			if string(body) == `{"devices":[{"id":1,"type":"floppy"}]}` {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"device 1: unsupported type \"floppy\""}`)
				return
			}
			stored = string(body)
			io.WriteString(w, stored)
		default:
			io.WriteString(w, stored)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, fastRetry(false))
	ctx := context.Background()

	want := []usb.Device{{ID: 1, Type: usb.GemaltoPcTwinReader, CardType: usb.CosmoID70}}
	require.NoError(t, c.SetDevices(ctx, want))
	got, err := c.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	err = c.SetDevices(ctx, []usb.Device{{ID: 1, Type: "floppy"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "unsupported type")
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, fastRetry(false)).Module(context.Background())
	assert.Error(t, err)
}
