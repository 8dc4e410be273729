package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/jobs"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// hubServer upgrades every request into a hub connection on the thread
// named by ?thread= and pumps writes until the hub closes it.
func hubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var wg sync.WaitGroup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := hub.Register(ws, r.URL.Query().Get("thread"), "alice")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range conn.send {
				ws.WriteMessage(websocket.TextMessage, msg)
			}
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			ws.Close()
		}()
	}))
	t.Cleanup(func() {
		hub.CloseAll()
		wg.Wait()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, thread string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?thread="+thread, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func TestHubBroadcastsPerThread(t *testing.T) {
	hub := NewHub(logger.NewNop())
	srv := hubServer(t, hub)

	a1 := dial(t, srv, "t1")
	a2 := dial(t, srv, "t1")
	b := dial(t, srv, "t2")
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, hub.ThreadCount())

	require.NoError(t, hub.Broadcast("t1", map[string]string{"type": "ack"}))
	require.NoError(t, hub.Broadcast("t2", map[string]string{"type": "done"}))

	for _, ws := range []*websocket.Conn{a1, a2} {
		var msg map[string]string
		require.NoError(t, ws.ReadJSON(&msg))
		assert.Equal(t, "ack", msg["type"])
	}
	var msg map[string]string
	require.NoError(t, b.ReadJSON(&msg))
	assert.Equal(t, "done", msg["type"])
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub(logger.NewNop())
	srv := hubServer(t, hub)

	ws := dial(t, srv, "t1")
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.CloseAll()
	assert.Zero(t, hub.ConnectionCount())
	assert.Zero(t, hub.ThreadCount())

	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	hub.CloseAll()
}

func TestHubDropsSlowConnection(t *testing.T) {
	hub := NewHub(logger.NewNop())
	conn := &Connection{ID: "slow", ThreadID: "t1", send: make(chan []byte, 1)}
	hub.connections[conn.ID] = conn
	hub.threads["t1"] = map[string]*Connection{conn.ID: conn}

	require.NoError(t, hub.Broadcast("t1", "first"))
	require.NoError(t, hub.Broadcast("t1", "second"))
	assert.True(t, conn.closed)
	assert.Zero(t, hub.ConnectionCount())
	require.NoError(t, hub.SendJSON(conn, "ignored"))

	var got []string
	for msg := range conn.send {
		got = append(got, string(msg))
	}
	assert.Equal(t, []string{`"first"`}, got)
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"thread not found", store.ErrNotFound, http.StatusNotFound, "thread not found"},
		{"job not found", fmt.Errorf("load: %w", jobs.ErrNotFound), http.StatusNotFound, ""},
		{"validation", agenterr.Invalid("", "bad priority"), http.StatusBadRequest, ""},
		{"transition", jobs.ErrInvalidTransition, http.StatusConflict, ""},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "failed to do it"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err, "failed to do it")
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.body != "" {
				assert.Equal(t, tt.body, body["error"])
			}
			assert.NotContains(t, body["error"], "disk on fire")
		})
	}
}

func TestHealthReady(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"sqlite": func(ctx context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(map[string]Check{
		"sqlite": func(ctx context.Context) error { return nil },
		"nats":   func(ctx context.Context) error { return errors.New("NATS not connected") },
	})
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "nats")
}
