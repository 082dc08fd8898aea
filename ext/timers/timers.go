// Package timers provides monotonic time and sleep ops, plus timer
// resources that can be cancelled by closing them.
package timers

import (
	"context"
	"time"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Name is the extension name.
const Name = "timers"

// Clock measures time since the kernel started.
type Clock struct {
	start time.Time
}

// NewClock starts a clock now.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// Millis returns the milliseconds elapsed since the clock started, with
// sub-millisecond precision.
func (c *Clock) Millis() float64 {
	return float64(time.Since(c.start)) / float64(time.Millisecond)
}

// Timer is a one-shot deadline. Closing it wakes every waiter with a
// Cancelled error.
type Timer struct {
	deadline time.Time
	cancel   *resource.CancelHandle
}

// NewTimer creates a timer that fires after d.
func NewTimer(d time.Duration) *Timer {
	return &Timer{deadline: time.Now().Add(d), cancel: resource.NewCancelHandle()}
}

func (t *Timer) Name() string { return "timer" }

func (t *Timer) Close() { t.cancel.Cancel() }

// Wait blocks until the deadline passes, the timer is closed or ctx is done.
func (t *Timer) Wait(ctx context.Context) error {
	d := time.Until(t.deadline)
	if d <= 0 {
		if t.cancel.Cancelled() {
			return errors.Cancelled("timer")
		}
		return nil
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-tm.C:
		return nil
	case <-t.cancel.Done():
		return errors.Cancelled("timer")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New returns the timers extension.
func New() *op.Extension {
	return op.NewExtension(Name).
		Ops(
			op.Sync("op_now", opNow),
			op.Async("op_sleep", opSleep),
			op.Sync("op_timer_start", opTimerStart),
			op.Async("op_timer_wait", opTimerWait),
		).
		State(func(s *op.State) error {
			op.Put(s, NewClock())
			return nil
		}).
		Build()
}

func opNow(s *op.State, _ op.Void, _ op.Void) (float64, error) {
	return op.Borrow[*Clock](s).Millis(), nil
}

func opSleep(ctx context.Context, _ *op.State, ms float64, _ op.Void) (op.Void, error) {
	if ms < 0 {
		return op.Void{}, errors.InvalidInput(errors.PhaseOp, "negative sleep duration")
	}
	tm := time.NewTimer(millis(ms))
	defer tm.Stop()
	select {
	case <-tm.C:
		return op.Void{}, nil
	case <-ctx.Done():
		return op.Void{}, ctx.Err()
	}
}

func opTimerStart(s *op.State, ms float64, _ op.Void) (resource.ID, error) {
	if ms < 0 {
		return 0, errors.InvalidInput(errors.PhaseOp, "negative timer duration")
	}
	return s.Resources.Add(NewTimer(millis(ms))), nil
}

func opTimerWait(ctx context.Context, s *op.State, rid resource.ID, _ op.Void) (op.Void, error) {
	t, err := resource.Get[*Timer](s.Resources, rid)
	if err != nil {
		return op.Void{}, err
	}
	return op.Void{}, t.Wait(ctx)
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
