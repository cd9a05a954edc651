package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/parley/internal/config"
	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/transport/realtimews"
)

// newCancelRejectingServer answers session setup and refuses every
// response.cancel the way a realtime endpoint does when nothing is playing.
func newCancelRejectingServer(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	received := make(chan string, 16)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if err := ws.WriteJSON(map[string]any{"type": "session.created", "session": map[string]any{"id": "sess_1"}}); err != nil {
			return
		}
		for {
			var msg map[string]any
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			typ, _ := msg["type"].(string)
			received <- typ
			if typ != "response.cancel" {
				continue
			}
			_ = ws.WriteJSON(map[string]any{
				"type": "error",
				"error": map[string]any{
					"type":     "invalid_request_error",
					"code":     "response_cancel_not_active",
					"message":  "Cancellation failed: no active response found",
					"event_id": msg["event_id"],
				},
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func TestController_InterruptRejectedOverRealtime(t *testing.T) {
	srv, received := newCancelRejectingServer(t)

	adapter, err := realtimews.NewAdapter(realtimews.Config{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Model: "gpt-test",
	})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		notices []Notice
	)
	ctrl, err := NewController(Deps{
		Adapter: adapter,
		Notifier: func(n Notice) {
			mu.Lock()
			notices = append(notices, n)
			mu.Unlock()
		},
	}, RuntimeConfig{Timings: config.SessionTimings{Tick: 10 * time.Millisecond}})
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.Start(context.Background(), Options{Scenario: "discovery"}))
	require.Eventually(t, func() bool { return ctrl.Snapshot().State == StateActive }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.Interrupt())
	require.Eventually(t, func() bool {
		for {
			select {
			case typ := <-received:
				if typ == "response.cancel" {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range notices {
			if parleyErrors.IsCategory(n.Err, parleyErrors.ErrLocalAction) && strings.Contains(n.Message, "response_cancel_not_active") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	snap := ctrl.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.True(t, snap.IsConnected)
	assert.NoError(t, snap.LastError)
}
