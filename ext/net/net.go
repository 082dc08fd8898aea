// Package net provides TCP listener and stream resources. Closing a
// resource cancels the futures blocked on it.
package net

import (
	"context"
	stderrors "errors"
	"net"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Name is the extension name.
const Name = "net"

// Permissions lists the hosts scripts may listen on or connect to. "*"
// allows any host.
type Permissions struct {
	Hosts []string
}

// AllowAll permits every host.
func AllowAll() *Permissions {
	return &Permissions{Hosts: []string{"*"}}
}

// Check returns a PermissionDenied error unless addr's host is allowed.
func (p *Permissions) Check(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.Op(errors.ClassInvalidData, err)
	}
	if slices.Contains(p.Hosts, "*") || slices.Contains(p.Hosts, host) {
		return nil
	}
	return errors.New(errors.PhaseOp, errors.KindOp).
		Class(errors.ClassPermissionDenied).
		Detail("requires net access to %q", host).
		Build()
}

// TCPListener is a listening socket.
type TCPListener struct {
	ln     *net.TCPListener
	accept *resource.Cell[*net.TCPListener]
	cancel *resource.CancelHandle
}

func newListener(ln *net.TCPListener) *TCPListener {
	return &TCPListener{ln: ln, accept: resource.NewCell(ln), cancel: resource.NewCancelHandle()}
}

func (l *TCPListener) Name() string { return "tcpListener" }

func (l *TCPListener) LocalAddr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection. Concurrent accepts queue on the
// listener.
func (l *TCPListener) Accept(ctx context.Context) (*TCPStream, error) {
	ctx, cancel := l.cancel.Bind(ctx)
	defer cancel()

	ln, release, err := l.accept.Lock(ctx)
	if err != nil {
		return nil, l.cancel.Filter("accept", err)
	}
	defer release()

	// the bound context only ends on close or teardown, so the deadline is
	// never reset
	stop := context.AfterFunc(ctx, func() { (*ln).SetDeadline(time.Now()) })
	defer stop()
	conn, err := (*ln).AcceptTCP()
	if err != nil {
		if ctx.Err() != nil && !l.cancel.Cancelled() {
			return nil, ctx.Err()
		}
		return nil, l.cancel.Filter("accept", err)
	}
	return newStream(conn), nil
}

// Close cancels pending accepts and closes the socket.
func (l *TCPListener) Close() {
	l.cancel.Cancel()
	if err := l.ln.Close(); err != nil {
		op.Logger().Debug("listener close failed", zap.Error(err))
	}
}

// TCPStream is a connected socket. Its read and write halves are guarded
// separately so one read and one write may be in flight at once.
type TCPStream struct {
	conn   *net.TCPConn
	rd     *resource.Cell[*net.TCPConn]
	wr     *resource.Cell[*net.TCPConn]
	cancel *resource.CancelHandle
}

func newStream(conn *net.TCPConn) *TCPStream {
	return &TCPStream{
		conn:   conn,
		rd:     resource.NewCell(conn),
		wr:     resource.NewCell(conn),
		cancel: resource.NewCancelHandle(),
	}
}

func (s *TCPStream) Name() string { return "tcpStream" }

func (s *TCPStream) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Read reads into p. It is cancelled when the stream is closed.
func (s *TCPStream) Read(ctx context.Context, p []byte) (int, error) {
	ctx, cancel := s.cancel.Bind(ctx)
	defer cancel()

	conn, release, err := s.rd.Lock(ctx)
	if err != nil {
		return 0, s.cancel.Filter("read", err)
	}
	defer release()

	stop := context.AfterFunc(ctx, func() { (*conn).SetReadDeadline(time.Now()) })
	defer stop()
	n, err := (*conn).Read(p)
	if err != nil && ctx.Err() != nil && !s.cancel.Cancelled() {
		return n, ctx.Err()
	}
	return n, s.cancel.Filter("read", err)
}

// Write writes p. A write in flight when the stream is closed completes.
func (s *TCPStream) Write(ctx context.Context, p []byte) (int, error) {
	conn, release, err := s.wr.Lock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	if s.cancel.Cancelled() {
		return 0, errors.Cancelled("write")
	}
	return (*conn).Write(p)
}

// Shutdown closes the write half once pending writes finish.
func (s *TCPStream) Shutdown(ctx context.Context) error {
	conn, release, err := s.wr.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()
	return (*conn).CloseWrite()
}

// Close cancels pending reads and closes the connection after any write in
// flight.
func (s *TCPStream) Close() {
	s.cancel.Cancel()
	go func() {
		_, release, err := s.wr.Lock(context.Background())
		if err == nil {
			defer release()
		}
		if err := s.conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
			op.Logger().Debug("stream close failed", zap.Error(err))
		}
	}()
}

type addresser interface {
	LocalAddr() net.Addr
}

// New returns the net extension. Nil permissions deny every host.
func New(perms *Permissions) *op.Extension {
	if perms == nil {
		perms = &Permissions{}
	}
	return op.NewExtension(Name).
		Ops(
			op.Sync("op_listen", opListen),
			op.Async("op_accept", opAccept),
			op.Async("op_connect", opConnect),
			op.Sync("op_local_addr", opLocalAddr),
		).
		State(func(s *op.State) error {
			op.Put(s, perms)
			return nil
		}).
		Build()
}

func opListen(s *op.State, addr string, _ op.Void) (resource.ID, error) {
	if err := op.Borrow[*Permissions](s).Check(addr); err != nil {
		return 0, err
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, err
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return 0, err
	}
	return s.Resources.Add(newListener(ln)), nil
}

func opAccept(ctx context.Context, s *op.State, rid resource.ID, _ op.Void) (resource.ID, error) {
	l, err := resource.Get[*TCPListener](s.Resources, rid)
	if err != nil {
		return 0, err
	}
	stream, err := l.Accept(ctx)
	if err != nil {
		return 0, err
	}
	return s.Resources.Add(stream), nil
}

func opConnect(ctx context.Context, s *op.State, addr string, _ op.Void) (resource.ID, error) {
	if err := op.Borrow[*Permissions](s).Check(addr); err != nil {
		return 0, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	return s.Resources.Add(newStream(conn.(*net.TCPConn))), nil
}

func opLocalAddr(s *op.State, rid resource.ID, _ op.Void) (string, error) {
	r, err := s.Resources.GetAny(rid)
	if err != nil {
		return "", err
	}
	a, ok := r.(addresser)
	if !ok {
		return "", errors.NotSupported("local address of " + resource.NameOf(r))
	}
	return a.LocalAddr().String(), nil
}
