// SPDX-License-Identifier: MIT
package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conga/internal/analysis"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketBroadcastsHits(t *testing.T) {
	wst := newWebSocketTransport("/hits")
	srv := httptest.NewServer(wst.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { wst.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/hits"
	c1, c2 := dial(t, url), dial(t, url)
	require.Eventually(t, func() bool { return wst.Clients() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(analysis.Event{
		Type:       analysis.HitTip,
		Confidence: 0.7,
		Timestamp:  250 * time.Millisecond,
		Mode:       analysis.ModeIntelligent,
	}))

	for _, c := range []*websocket.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg HitMessage
		require.NoError(t, c.ReadJSON(&msg))
		assert.Equal(t, analysis.HitTip, msg.Type)
		assert.Equal(t, analysis.ModeIntelligent, msg.Mode)
		assert.InDelta(t, 250.0, msg.TimestampMs, 1e-9)
	}
}

func TestWebSocketDropsDisconnectedClients(t *testing.T) {
	wst := newWebSocketTransport("/hits")
	srv := httptest.NewServer(wst.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { wst.Close() })

	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/hits")
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, time.Second, 5*time.Millisecond)

	c.Close()
	require.Eventually(t, func() bool { return wst.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebSocketSendAfterClose(t *testing.T) {
	wst := newWebSocketTransport("/hits")
	require.NoError(t, wst.Close())
	require.NoError(t, wst.Close())
	assert.ErrorIs(t, wst.Send("late"), ErrTransportClosed)
}

func TestWebSocketRejectsClientsAfterClose(t *testing.T) {
	wst := newWebSocketTransport("/hits")
	srv := httptest.NewServer(wst.Handler())
	t.Cleanup(srv.Close)
	require.NoError(t, wst.Close())

	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/hits")
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, wst.Clients())
}

func TestNewWebSocketTransportListens(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0", "/hits")
	require.NoError(t, err)
	t.Cleanup(func() { wst.Close() })

	require.NotNil(t, wst.Addr())
	dial(t, "ws://"+wst.Addr().String()+"/hits")
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, time.Second, 5*time.Millisecond)
}
