package sockets

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, body, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	return string(body)
}

func TestHub_Broadcast(t *testing.T) {
	hub := New()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	first := dial(t, srv)
	second := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	hub.Broadcast([]byte(`{"kind":"updated"}`))
	assert.Equal(t, `{"kind":"updated"}`, readText(t, first))
	assert.Equal(t, `{"kind":"updated"}`, readText(t, second))
}

func TestHub_OnConnectedSendsFirst(t *testing.T) {
	hub := New(OnConnected(func(c Connection) {
		_ = c.Send(Msg{Body: []byte("hello")})
	}))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ws := dial(t, srv)
	assert.Equal(t, "hello", readText(t, ws))
}

func TestHub_ClientDisconnectIsRemoved(t *testing.T) {
	hub := New()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ws := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = ws.Close()
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := New()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Len())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHub_Ping(t *testing.T) {
	hub := New(WithPingInterval(20*time.Millisecond), WithPingMsg([]byte("ping")))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ws := dial(t, srv)
	pinged := make(chan string, 1)
	ws.SetPingHandler(func(data string) error {
		select {
		case pinged <- data:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case data := <-pinged:
		assert.Equal(t, "ping", data)
	case <-time.After(5 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	hub := New()
	c := &conn{hub: hub, send: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, c.Send(Msg{Body: []byte("a")}))
	assert.ErrorIs(t, c.Send(Msg{Body: []byte("b")}), ErrSlowClient)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(Msg{Body: []byte("c")}), ErrClosed)
}

func TestHub_WriteTimeoutOption(t *testing.T) {
	assert.Equal(t, 3*time.Second, New(WithWriteTimeout(3*time.Second)).writeTimeout)
	assert.Equal(t, 10*time.Second, New(WithWriteTimeout(0)).writeTimeout)
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := New(WithCheckOrigin(func(r *http.Request) bool {
		return r.Header.Get("Origin") == "http://dashboard.local"
	}))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.local"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://dashboard.local"}})
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
}
