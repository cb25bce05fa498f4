package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminsync/internal/partnersync"
)

func dial(t *testing.T, hub *Hub, ownerID int64) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, ownerID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNotifySweepReachesOwnerOnly(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	mine := dial(t, hub, 1)
	other := dial(t, hub, 2)
	require.Eventually(t, func() bool {
		return hub.Connected(1) == 1 && hub.Connected(2) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.NotifySweep(partnersync.Report{OwnerID: 1, Processed: 3, Created: 1})

	mine.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := mine.ReadMessage()
	require.NoError(t, err)
	var ev SweepEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "sweep", ev.Type)
	assert.Equal(t, int64(1), ev.Report.OwnerID)
	assert.Equal(t, 3, ev.Report.Processed)
	assert.Equal(t, 1, ev.Report.Created)

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dial(t, hub, 7)
	require.Eventually(t, func() bool { return hub.Connected(7) == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Connected(7) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.NotifySweep(partnersync.Report{OwnerID: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifySweep blocked")
	}
}
