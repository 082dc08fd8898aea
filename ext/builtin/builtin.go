// Package builtin provides the ops every script runtime carries: resource
// introspection and closing, printing, op metrics and the generic stream
// ops that dispatch through the resource capability interface.
package builtin

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"sync"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/marshal"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Name is the extension name.
const Name = "builtin"

// Stdio is where op_print writes. Writes are serialised.
type Stdio struct {
	Stdout io.Writer
	Stderr io.Writer
	mu     sync.Mutex
}

// Print writes msg to stdout, or to stderr when isErr is set.
func (s *Stdio) Print(msg string, isErr bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.Stdout
	if isErr {
		w = s.Stderr
	}
	_, err := io.WriteString(w, msg)
	return err
}

// Report is the op_metrics result.
type Report struct {
	Aggregate op.Metrics            `json:"aggregate"`
	Ops       map[string]op.Metrics `json:"ops"`
	Resources op.ResourceMetrics    `json:"resources"`
}

// New returns the builtin extension. A nil stdio writes to the process's
// stdout and stderr.
func New(stdio *Stdio) *op.Extension {
	if stdio == nil {
		stdio = &Stdio{Stdout: os.Stdout, Stderr: os.Stderr}
	}
	return op.NewExtension(Name).
		Ops(
			op.Sync("op_resources", opResources),
			op.Sync("op_close", opClose),
			op.Sync("op_try_close", opTryClose),
			op.Sync("op_print", opPrint),
			op.Sync("op_metrics", opMetrics),
			op.Async("op_read", opRead),
			op.Async("op_write", opWrite),
			op.Async("op_shutdown", opShutdown),
		).
		State(func(s *op.State) error {
			op.Put(s, stdio)
			return nil
		}).
		Build()
}

func opResources(s *op.State, _ op.Void, _ op.Void) ([]resource.Info, error) {
	return s.Resources.List(), nil
}

func opClose(s *op.State, rid resource.ID, _ op.Void) (op.Void, error) {
	return op.Void{}, s.Resources.Close(rid)
}

func opTryClose(s *op.State, rid resource.ID, _ op.Void) (op.Void, error) {
	if err := s.Resources.Close(rid); err != nil && !stderrors.Is(err, errors.ErrBadResourceID) {
		return op.Void{}, err
	}
	return op.Void{}, nil
}

func opPrint(s *op.State, msg string, isErr bool) (op.Void, error) {
	return op.Void{}, op.Borrow[*Stdio](s).Print(msg, isErr)
}

func opMetrics(s *op.State, _ op.Void, _ op.Void) (Report, error) {
	tracker := op.Borrow[*op.Tracker](s)
	table := op.Borrow[*op.Table](s)

	r := Report{
		Aggregate: tracker.Aggregate(),
		Ops:       make(map[string]op.Metrics),
		Resources: tracker.Resources(),
	}
	for _, e := range table.Entries() {
		r.Ops[e.Name] = tracker.Op(e.ID)
	}
	return r, nil
}

// opRead reads into buf and returns the byte count; 0 means end of stream.
func opRead(ctx context.Context, s *op.State, rid resource.ID, buf *marshal.Buffer) (int, error) {
	r, err := s.Resources.GetAny(rid)
	if err != nil {
		return 0, err
	}
	n, err := resource.Read(ctx, r, buf.Bytes())
	if stderrors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func opWrite(ctx context.Context, s *op.State, rid resource.ID, buf *marshal.Buffer) (int, error) {
	r, err := s.Resources.GetAny(rid)
	if err != nil {
		return 0, err
	}
	return resource.Write(ctx, r, buf.Bytes())
}

func opShutdown(ctx context.Context, s *op.State, rid resource.ID, _ op.Void) (op.Void, error) {
	r, err := s.Resources.GetAny(rid)
	if err != nil {
		return op.Void{}, err
	}
	return op.Void{}, resource.Shutdown(ctx, r)
}
