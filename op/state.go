package op

import (
	"context"
	"io"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/resource"
)

// State is the per-kernel container every op receives. It is safe for
// concurrent use by async op bodies.
type State struct {
	ctx       context.Context
	Resources *resource.Table
	slots     map[reflect.Type]any
	cancel    context.CancelFunc
	order     []reflect.Type
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewState creates a state with an empty resource table and no slots.
func NewState() *State {
	ctx, cancel := context.WithCancel(context.Background())
	return &State{
		ctx:       ctx,
		cancel:    cancel,
		Resources: resource.NewTable(),
		slots:     make(map[reflect.Type]any),
	}
}

// Context is cancelled when the state is closed. Async op bodies run under
// it.
func (s *State) Context() context.Context {
	return s.ctx
}

// Close tears the state down: every live resource is closed, the state
// context is cancelled, then slots implementing io.Closer are closed in
// reverse order of insertion.
func (s *State) Close() {
	s.closeOnce.Do(func() {
		s.Resources.CloseAll()
		s.cancel()

		s.mu.Lock()
		order := s.order
		slots := s.slots
		s.order = nil
		s.slots = make(map[reflect.Type]any)
		s.mu.Unlock()

		for i := len(order) - 1; i >= 0; i-- {
			c, ok := slots[order[i]].(io.Closer)
			if !ok {
				continue
			}
			if err := c.Close(); err != nil {
				Logger().Warn("state slot close failed",
					zap.String("type", order[i].String()),
					zap.Error(err))
			}
		}
	})
}

func (s *State) put(t reflect.Type, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slots[t]; !exists {
		s.order = append(s.order, t)
	}
	s.slots[t] = v
}

func (s *State) get(t reflect.Type) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.slots[t]
	return v, ok
}

func (s *State) remove(t reflect.Type) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.slots[t]
	if !ok {
		return nil, false
	}
	delete(s.slots, t)
	for i, o := range s.order {
		if o == t {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return v, true
}

// Put stores v in the slot for T, replacing any previous value.
func Put[T any](s *State, v T) {
	s.put(reflect.TypeFor[T](), v)
}

// Borrow returns the value in the slot for T. A missing slot is a wiring
// defect and panics.
func Borrow[T any](s *State) T {
	v, ok := s.get(reflect.TypeFor[T]())
	if !ok {
		errors.Fatal("state slot %s is not installed", reflect.TypeFor[T]())
	}
	return v.(T)
}

// TryBorrow returns the value in the slot for T if present.
func TryBorrow[T any](s *State) (T, bool) {
	v, ok := s.get(reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Take removes and returns the value in the slot for T. A missing slot
// panics.
func Take[T any](s *State) T {
	v, ok := s.remove(reflect.TypeFor[T]())
	if !ok {
		errors.Fatal("state slot %s is not installed", reflect.TypeFor[T]())
	}
	return v.(T)
}

// Has reports whether the slot for T is present.
func Has[T any](s *State) bool {
	_, ok := s.get(reflect.TypeFor[T]())
	return ok
}
