package op

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of blocking or CPU-bound jobs running at once.
// Only async op bodies use it; the dispatch goroutine never waits on it.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool with n slots. n <= 0 means GOMAXPROCS.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Run waits for a free slot, then runs fn on the calling goroutine.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Blocking runs fn on the state's pool, or directly when the state has
// none.
func Blocking[R any](ctx context.Context, s *State, fn func() (R, error)) (R, error) {
	p, ok := TryBorrow[*Pool](s)
	if !ok {
		return fn()
	}
	var r R
	err := p.Run(ctx, func() error {
		var err error
		r, err = fn()
		return err
	})
	return r, err
}
