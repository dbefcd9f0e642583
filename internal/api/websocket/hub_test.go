package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/events"
)

func newHubFixture(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, zap.NewNop(), w, r)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastReachesClient(t *testing.T) {
	hub, url, _ := newHubFixture(t)
	conn := dial(t, url)

	waitFor(t, func() bool { return hub.GetClientCount() == 1 }, "client never registered")

	hub.Broadcast(FromEvent(events.Event{
		Type:      events.TypeVariableUpdate,
		Driver:    "plc1",
		Variable:  "plc1.hr:0",
		Value:     17,
		Quality:   "GOOD",
		Timestamp: time.Now(),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"variable_update"`)
	assert.Contains(t, string(data), `"GOOD"`)
}

func TestHubShutdownReleasesClients(t *testing.T) {
	hub, url, cancel := newHubFixture(t)
	conn := dial(t, url)

	waitFor(t, func() bool { return hub.GetClientCount() == 1 }, "client never registered")

	cancel()

	// The stopped hub must still release the client's pumps: the peer sees
	// the connection close instead of hanging.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Late arrivals are turned away instead of blocking on register.
	late, _, dialErr := websocket.DefaultDialer.Dial(url, nil)
	if dialErr == nil {
		late.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = late.ReadMessage()
		assert.Error(t, err)
		late.Close()
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
