package op

import (
	"sync"
	"sync/atomic"
)

// completion stamps resolved futures so the driver can deliver results in
// the order they finished.
var completion atomic.Uint64

// Result is the value an async op resolved with.
type Result struct {
	Value any
	Err   error
}

// Future is a single-assignment result cell written by an async op body and
// read by the event-loop driver.
type Future struct {
	done     chan struct{}
	res      Result
	watchers []func()
	seq      uint64
	mu       sync.Mutex
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved(v any, err error) *Future {
	f := NewFuture()
	f.Resolve(v, err)
	return f
}

// Resolve completes the future. Only the first call has an effect; it
// reports whether this call won.
func (f *Future) Resolve(v any, err error) bool {
	f.mu.Lock()
	if f.seq != 0 {
		f.mu.Unlock()
		return false
	}
	f.res = Result{Value: v, Err: err}
	f.seq = completion.Add(1)
	watchers := f.watchers
	f.watchers = nil
	close(f.done)
	f.mu.Unlock()

	for _, w := range watchers {
		w()
	}
	return true
}

// Poll returns the result if the future has completed.
func (f *Future) Poll() (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seq == 0 {
		return Result{}, false
	}
	return f.res, true
}

// Done is closed when the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Seq is the global completion stamp, 0 while pending. Lower values
// completed earlier.
func (f *Future) Seq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// OnResolve registers fn to run once the future completes. If it already
// has, fn runs immediately on the calling goroutine.
func (f *Future) OnResolve(fn func()) {
	f.mu.Lock()
	if f.seq == 0 {
		f.watchers = append(f.watchers, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}
