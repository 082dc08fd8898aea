// Package kerneltest drives extensions through a kernel without a script
// engine. Values cross the boundary in the marshal.Native representation.
package kerneltest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/opcore/kernel"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Timeout bounds how long Wait blocks on a single promise.
var Timeout = 5 * time.Second

// Harness is a kernel plus an engine that records settlements.
type Harness struct {
	t       testing.TB
	Kernel  *kernel.Kernel
	settled map[uint32]kernel.Settlement
	nextPID uint32
	mu      sync.Mutex
}

// New builds a kernel from exts and closes it when the test ends.
func New(t testing.TB, exts ...*op.Extension) *Harness {
	t.Helper()
	h := &Harness{t: t, settled: make(map[uint32]kernel.Settlement)}
	k, err := kernel.New(kernel.Options{Engine: h, Extensions: exts, Workers: 4})
	require.NoError(t, err)
	h.Kernel = k
	t.Cleanup(k.Close)
	return h
}

// Settle implements kernel.Engine.
func (h *Harness) Settle(_ context.Context, batch []kernel.Settlement) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range batch {
		h.settled[s.PromiseID] = s
	}
	return nil
}

// State returns the kernel's op state.
func (h *Harness) State() *op.State {
	return h.Kernel.State()
}

// Resources returns the kernel's resource table.
func (h *Harness) Resources() *resource.Table {
	return h.Kernel.State().Resources
}

// ID resolves an op name, failing the test if it is not registered.
func (h *Harness) ID(name string) op.ID {
	h.t.Helper()
	id, ok := h.Kernel.Ops().Lookup(name)
	require.True(h.t, ok, "op %s not registered", name)
	return id
}

// Sync calls a sync op by name.
func (h *Harness) Sync(name string, a, b any) (any, error) {
	h.t.Helper()
	return h.Kernel.OpcallSync(h.ID(name), a, b)
}

// Start dispatches an async op and returns its promise id.
func (h *Harness) Start(name string, a, b any) uint32 {
	h.t.Helper()
	h.mu.Lock()
	h.nextPID++
	pid := h.nextPID
	h.mu.Unlock()
	require.NoError(h.t, h.Kernel.OpcallAsync(h.ID(name), pid, a, b))
	return pid
}

// Wait ticks the kernel until pid is settled.
func (h *Harness) Wait(pid uint32) (any, error) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	for {
		if s, ok := h.take(pid); ok {
			if s.Err != nil {
				return nil, s.Err
			}
			return s.Value, nil
		}
		_, err := h.Kernel.Tick(ctx)
		require.NoError(h.t, err)
		select {
		case <-ctx.Done():
			h.t.Fatalf("promise %d did not settle within %s", pid, Timeout)
		case <-time.After(time.Millisecond):
		}
	}
}

// Async dispatches an async op and waits for its result.
func (h *Harness) Async(name string, a, b any) (any, error) {
	h.t.Helper()
	return h.Wait(h.Start(name, a, b))
}

func (h *Harness) take(pid uint32) (kernel.Settlement, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.settled[pid]
	if ok {
		delete(h.settled, pid)
	}
	return s, ok
}
