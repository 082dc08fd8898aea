package ws

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/opcore/errors"
	opnet "github.com/wippyai/opcore/ext/net"
	"github.com/wippyai/opcore/internal/kerneltest"
	"github.com/wippyai/opcore/marshal"
)

// echoServer echoes every data message and closes after "bye".
func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "done")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEcho(t *testing.T) {
	h := kerneltest.New(t, New(opnet.AllowAll()))
	addr := echoServer(t)

	rid, err := h.Async("op_ws_connect", addr, nil)
	require.NoError(t, err)

	_, err = h.Async("op_ws_send", rid, "hello")
	require.NoError(t, err)
	msg, err := h.Async("op_ws_next", rid, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "text", "data": "hello"}, msg)

	_, err = h.Async("op_ws_send_binary", rid, marshal.BufferFrom([]byte{1, 2, 3}))
	require.NoError(t, err)
	msg, err = h.Async("op_ws_next", rid, nil)
	require.NoError(t, err)
	m := msg.(map[string]any)
	assert.Equal(t, "binary", m["type"])
	assert.Equal(t, []byte{1, 2, 3}, m["data"].(*marshal.Buffer).Bytes())

	_, err = h.Async("op_ws_send", rid, "bye")
	require.NoError(t, err)
	msg, err = h.Async("op_ws_next", rid, nil)
	require.NoError(t, err)
	m = msg.(map[string]any)
	assert.Equal(t, "close", m["type"])
	assert.Equal(t, websocket.CloseGoingAway, m["code"])
	assert.Equal(t, "done", m["reason"])
}

func TestCloseCancelsNext(t *testing.T) {
	h := kerneltest.New(t, New(opnet.AllowAll()))
	addr := echoServer(t)

	rid, err := h.Async("op_ws_connect", addr, nil)
	require.NoError(t, err)

	pid := h.Start("op_ws_next", rid, nil)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, h.Resources().Close(1))

	_, err = h.Wait(pid)
	require.Error(t, err)
	assert.Equal(t, errors.ClassInterrupted, errors.ClassOf(err))

	_, err = h.Async("op_ws_send", rid, "late")
	assert.Equal(t, errors.ClassBadResource, errors.ClassOf(err))
}

func TestConnectDenied(t *testing.T) {
	h := kerneltest.New(t, New(nil))

	_, err := h.Async("op_ws_connect", "ws://example.com/socket", nil)
	assert.Equal(t, errors.ClassPermissionDenied, errors.ClassOf(err))
}

func TestHostPort(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ws://example.com/x", "example.com:80"},
		{"wss://example.com/x", "example.com:443"},
		{"ws://127.0.0.1:9000", "127.0.0.1:9000"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, hostPort(u))
	}
}
