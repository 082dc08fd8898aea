package resource

import (
	"context"
	"sync"

	"github.com/wippyai/opcore/errors"
)

// CancelHandle is a shared cancellation flag owned by a resource. Futures
// working on the resource observe it and unwind early once it fires.
// Cancellation is cooperative: work that never checks the handle runs to
// completion.
type CancelHandle struct {
	done chan struct{}
	once sync.Once
}

// NewCancelHandle returns a handle that has not fired.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{done: make(chan struct{})}
}

// Cancel fires the handle. Safe to call more than once.
func (h *CancelHandle) Cancel() {
	h.once.Do(func() { close(h.done) })
}

// Cancelled reports whether the handle has fired.
func (h *CancelHandle) Cancelled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done is closed when the handle fires.
func (h *CancelHandle) Done() <-chan struct{} {
	return h.done
}

// Bind derives a context that is cancelled when either parent is done or
// the handle fires. The returned cancel func must be called to release it.
func (h *CancelHandle) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Filter replaces err with a Cancelled error for what if the handle has
// fired, so callers see a uniform condition instead of whatever the
// interrupted I/O reported.
func (h *CancelHandle) Filter(what string, err error) error {
	if err != nil && h.Cancelled() {
		return errors.Cancelled(what)
	}
	return err
}
