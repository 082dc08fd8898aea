// Package ws provides WebSocket client resources on gorilla/websocket.
package ws

import (
	"context"
	stderrors "errors"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
	opnet "github.com/wippyai/opcore/ext/net"
	"github.com/wippyai/opcore/marshal"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Name is the extension name.
const Name = "ws"

const closeTimeout = time.Second

// WebSocket is a client connection. One receive and one send may run
// concurrently.
type WebSocket struct {
	conn   *websocket.Conn
	rd     *resource.Cell[*websocket.Conn]
	wr     *resource.Cell[*websocket.Conn]
	cancel *resource.CancelHandle
}

func newWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{
		conn:   conn,
		rd:     resource.NewCell(conn),
		wr:     resource.NewCell(conn),
		cancel: resource.NewCancelHandle(),
	}
}

func (w *WebSocket) Name() string { return "webSocketStream" }

// Send writes one data message.
func (w *WebSocket) Send(ctx context.Context, kind int, data []byte) error {
	conn, release, err := w.wr.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()
	if w.cancel.Cancelled() {
		return errors.Cancelled("send")
	}
	if dl, ok := ctx.Deadline(); ok {
		(*conn).SetWriteDeadline(dl)
		defer (*conn).SetWriteDeadline(time.Time{})
	}
	return (*conn).WriteMessage(kind, data)
}

// Next receives the next data message. A close frame from the peer is
// reported as a message of type "close".
func (w *WebSocket) Next(ctx context.Context) (map[string]any, error) {
	ctx, cancel := w.cancel.Bind(ctx)
	defer cancel()

	conn, release, err := w.rd.Lock(ctx)
	if err != nil {
		return nil, w.cancel.Filter("next", err)
	}
	defer release()

	stop := context.AfterFunc(ctx, func() { (*conn).SetReadDeadline(time.Now()) })
	defer stop()

	kind, data, err := (*conn).ReadMessage()
	if err != nil {
		if w.cancel.Cancelled() {
			return nil, errors.Cancelled("next")
		}
		var ce *websocket.CloseError
		if stderrors.As(err, &ce) {
			return map[string]any{"type": "close", "code": ce.Code, "reason": ce.Text}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if kind == websocket.BinaryMessage {
		return map[string]any{"type": "binary", "data": marshal.BufferFrom(data)}, nil
	}
	return map[string]any{"type": "text", "data": string(data)}, nil
}

// Close sends a normal-closure frame, cancels pending receives and closes
// the connection.
func (w *WebSocket) Close() {
	w.cancel.Cancel()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout)); err != nil &&
		!stderrors.Is(err, websocket.ErrCloseSent) {
		op.Logger().Debug("websocket close frame failed", zap.Error(err))
	}
	w.conn.Close()
}

// New returns the ws extension. Hosts are checked against perms; nil
// denies every host.
func New(perms *opnet.Permissions) *op.Extension {
	if perms == nil {
		perms = &opnet.Permissions{}
	}
	return op.NewExtension(Name).
		Ops(
			op.Async("op_ws_connect", connect(perms)),
			op.Async("op_ws_send", opSend),
			op.Async("op_ws_send_binary", opSendBinary),
			op.Async("op_ws_next", opNext),
		).
		Build()
}

func connect(perms *opnet.Permissions) func(context.Context, *op.State, string, op.Void) (resource.ID, error) {
	return func(ctx context.Context, s *op.State, rawURL string, _ op.Void) (resource.ID, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return 0, errors.Op(errors.ClassInvalidData, err)
		}
		if err := perms.Check(hostPort(u)); err != nil {
			return 0, err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
		if err != nil {
			return 0, err
		}
		return s.Resources.Add(newWebSocket(conn)), nil
	}
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "wss" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func opSend(ctx context.Context, s *op.State, rid resource.ID, text string) (op.Void, error) {
	w, err := resource.Get[*WebSocket](s.Resources, rid)
	if err != nil {
		return op.Void{}, err
	}
	return op.Void{}, w.Send(ctx, websocket.TextMessage, []byte(text))
}

func opSendBinary(ctx context.Context, s *op.State, rid resource.ID, data *marshal.Buffer) (op.Void, error) {
	w, err := resource.Get[*WebSocket](s.Resources, rid)
	if err != nil {
		return op.Void{}, err
	}
	return op.Void{}, w.Send(ctx, websocket.BinaryMessage, data.Bytes())
}

func opNext(ctx context.Context, s *op.State, rid resource.ID, _ op.Void) (map[string]any, error) {
	w, err := resource.Get[*WebSocket](s.Resources, rid)
	if err != nil {
		return nil, err
	}
	return w.Next(ctx)
}
