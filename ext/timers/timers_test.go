package timers

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/internal/kerneltest"
)

func TestNow(t *testing.T) {
	h := kerneltest.New(t, New())

	a, err := h.Sync("op_now", nil, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	b, err := h.Sync("op_now", nil, nil)
	require.NoError(t, err)

	assert.Greater(t, b.(float64), a.(float64))
	assert.GreaterOrEqual(t, b.(float64)-a.(float64), 5.0)
}

func TestSleep(t *testing.T) {
	h := kerneltest.New(t, New())

	start := time.Now()
	_, err := h.Async("op_sleep", 10, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	_, err = h.Async("op_sleep", -1, nil)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidInput))
}

func TestTimer(t *testing.T) {
	h := kerneltest.New(t, New())

	rid, err := h.Sync("op_timer_start", 5, nil)
	require.NoError(t, err)

	_, err = h.Async("op_timer_wait", rid, nil)
	require.NoError(t, err)
	assert.True(t, h.Resources().Has(1))
}

func TestTimerCancelledByClose(t *testing.T) {
	h := kerneltest.New(t, New())

	rid, err := h.Sync("op_timer_start", 60_000, nil)
	require.NoError(t, err)

	pid := h.Start("op_timer_wait", rid, nil)
	require.NoError(t, h.Resources().Close(1))

	_, err = h.Wait(pid)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrCancelled))
	assert.Equal(t, errors.ClassInterrupted, errors.ClassOf(err))
}

func TestTimerWaitWrongResource(t *testing.T) {
	h := kerneltest.New(t, New())
	rid := h.Resources().Add("not a timer")

	_, err := h.Async("op_timer_wait", rid, nil)
	assert.True(t, stderrors.Is(err, errors.ErrResourceTypeMismatch))
}
