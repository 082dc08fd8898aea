package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Cell guards a resource's interior mutable state, such as the read half of
// a connection, between concurrently running futures. Waiting for the cell
// honours the caller's context.
type Cell[T any] struct {
	sem *semaphore.Weighted
	v   T
}

// NewCell wraps v.
func NewCell[T any](v T) *Cell[T] {
	return &Cell[T]{sem: semaphore.NewWeighted(1), v: v}
}

// Lock waits for exclusive access and returns the guarded value with its
// release func.
func (c *Cell[T]) Lock(ctx context.Context) (*T, func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	return &c.v, func() { c.sem.Release(1) }, nil
}

// TryLock acquires the cell only if it is free.
func (c *Cell[T]) TryLock() (*T, func(), bool) {
	if !c.sem.TryAcquire(1) {
		return nil, nil, false
	}
	return &c.v, func() { c.sem.Release(1) }, true
}
