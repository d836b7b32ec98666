package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overlaybridge/overlaybridge/pkg/logger"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Attach(strings.TrimPrefix(r.URL.Path, "/ws/"), w, r)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func dialSurface(t *testing.T, srv *httptest.Server, surface string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + surface

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)

	var evt Event
	require.NoError(t, json.Unmarshal(frame, &evt))

	return evt
}

func TestHubDeliversToAttachedSurface(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	defer hub.Close()

	srv := newHubServer(t, hub)
	ws := dialSurface(t, srv, "main")

	// Attach registers asynchronously relative to the dial returning.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()

		return len(hub.surfaces["main"]) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Dispatch("main", "osc_event_0", json.RawMessage(`{"address":"/fader1","arguments":[0.5]}`))

	evt := readEvent(t, ws)
	assert.Equal(t, "osc_event_0", evt.EventName)
	assert.JSONEq(t, `{"address":"/fader1","arguments":[0.5]}`, string(evt.Data))
}

func TestHubScopesDeliveryBySurface(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	defer hub.Close()

	srv := newHubServer(t, hub)
	mainWS := dialSurface(t, srv, "main")
	sideWS := dialSurface(t, srv, "side")

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()

		return len(hub.surfaces["main"]) == 1 && len(hub.surfaces["side"]) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Dispatch("side", "pad", json.RawMessage(`{"note":60}`))

	evt := readEvent(t, sideWS)
	assert.Equal(t, "pad", evt.EventName)

	require.NoError(t, mainWS.SetReadDeadline(time.Now().Add(100*time.Millisecond)))

	_, _, err := mainWS.ReadMessage()
	assert.Error(t, err, "events for another surface must not arrive here")
}

func TestHubDispatchToAbsentSurfaceIsNoop(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	defer hub.Close()

	assert.NotPanics(t, func() {
		hub.Dispatch("nobody", "osc_event_0", json.RawMessage(`{}`))
	})
}

func TestHubFansOutToAllConsumers(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	defer hub.Close()

	srv := newHubServer(t, hub)
	first := dialSurface(t, srv, "main")
	second := dialSurface(t, srv, "main")

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()

		return len(hub.surfaces["main"]) == 2
	}, time.Second, 10*time.Millisecond)

	hub.Dispatch("main", "tick", json.RawMessage(`{"n":1}`))

	assert.Equal(t, "tick", readEvent(t, first).EventName)
	assert.Equal(t, "tick", readEvent(t, second).EventName)
}

func TestHubDetachesOnDisconnect(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	defer hub.Close()

	srv := newHubServer(t, hub)
	ws := dialSurface(t, srv, "main")

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()

		return len(hub.surfaces["main"]) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()

		return len(hub.surfaces) == 0
	}, time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() {
		hub.Dispatch("main", "tick", json.RawMessage(`{}`))
	})
}

func TestHubCloseRejectsLateAttach(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	srv := newHubServer(t, hub)

	hub.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/main", nil)
	if err == nil {
		// The upgrade may complete before the hub turns the connection away;
		// either way no subscription survives.
		_ = ws.Close()
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.surfaces)
}
