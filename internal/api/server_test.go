// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wenhaoz/ykwatch/internal/engine"
)

type staticStatus struct {
	s engine.Status
}

func (f staticStatus) Status() engine.Status { return f.s }

func TestHealthz(t *testing.T) {
	srv := NewServer(":0", "test", staticStatus{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestStatusSnapshot(t *testing.T) {
	src := staticStatus{s: engine.Status{
		SessionID:   "s-1",
		CurrentItem: "18442",
		Coverage:    42.5,
		Ticks:       17,
	}}
	srv := NewServer(":0", "test", src)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got engine.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, "18442", got.CurrentItem)
	assert.InDelta(t, 42.5, got.Coverage, 1e-9)
	assert.Equal(t, 17, got.Ticks)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(":0", "test", staticStatus{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := NewServer("127.0.0.1:0", "test", staticStatus{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after cancel")
	}
}
