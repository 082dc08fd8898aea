package resource

import (
	"iter"
	"reflect"
	"slices"
	"sync"

	"github.com/wippyai/opcore/errors"
)

// Table maps IDs to live resources. Different resource types share one
// table; retrieval checks the concrete type.
//
// Ops running on async goroutines may touch the table concurrently with the
// dispatch goroutine, so all methods are safe for concurrent use.
type Table struct {
	entries   map[ID]Resource
	observers []Observer
	next      ID
	mu        sync.RWMutex
	obsMu     sync.RWMutex
}

// NewTable creates an empty table. The first issued ID is 1.
func NewTable() *Table {
	return &Table{
		entries: make(map[ID]Resource),
		next:    1,
	}
}

// Add inserts r and returns a fresh ID.
func (t *Table) Add(r Resource) ID {
	t.mu.Lock()
	id := t.next
	if _, exists := t.entries[id]; exists {
		t.mu.Unlock()
		errors.Fatal("resource id %d collides with a live resource", id)
	}
	t.entries[id] = r
	t.next++
	t.mu.Unlock()

	t.notify(Event{Type: EventAdded, ID: id, Value: r})
	return id
}

// AddShared inserts a resource the caller keeps referencing, for example to
// hand it to an async task before returning. The table holds one reference;
// the object lives until every holder drops it.
func (t *Table) AddShared(r Resource) ID {
	return t.Add(r)
}

// Has reports whether id is live.
func (t *Table) Has(id ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[id]
	return ok
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// GetAny returns the live resource for id without a type check.
func (t *Table) GetAny(id ID) (Resource, error) {
	t.mu.RLock()
	r, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return nil, errors.BadResourceID(uint32(id))
	}
	return r, nil
}

// TakeAny removes the resource for id and returns it without closing it.
func (t *Table) TakeAny(id ID) (Resource, error) {
	t.mu.Lock()
	r, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil, errors.BadResourceID(uint32(id))
	}

	t.notify(Event{Type: EventTaken, ID: id, Value: r})
	return r, nil
}

// Close removes the resource for id and invokes its close method once.
func (t *Table) Close(id ID) error {
	t.mu.Lock()
	r, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return errors.BadResourceID(uint32(id))
	}

	closeResource(id, r)
	t.notify(Event{Type: EventClosed, ID: id, Value: r})
	return nil
}

// CloseAll closes every live resource. Used when the owning kernel is torn
// down.
func (t *Table) CloseAll() {
	for _, id := range t.ids() {
		_ = t.Close(id)
	}
}

// Names yields an (ID, name) pair for every live resource. Entries removed
// during iteration are skipped.
func (t *Table) Names() iter.Seq2[ID, string] {
	return func(yield func(ID, string) bool) {
		for _, id := range t.ids() {
			r, err := t.GetAny(id)
			if err != nil {
				continue
			}
			if !yield(id, NameOf(r)) {
				return
			}
		}
	}
}

// List collects Names into a slice.
func (t *Table) List() []Info {
	var out []Info
	for id, name := range t.Names() {
		out = append(out, Info{ID: id, Name: name})
	}
	return out
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) ids() []ID {
	t.mu.RLock()
	ids := make([]ID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// Get returns the resource for id as a T. It fails with a bad-resource-id
// error when id is not live and with a type mismatch when the live resource
// is not a T; in both cases the table is unchanged.
func Get[T any](t *Table, id ID) (T, error) {
	var zero T
	r, err := t.GetAny(id)
	if err != nil {
		return zero, err
	}
	v, ok := r.(T)
	if !ok {
		return zero, errors.TypeMismatch(uint32(id), typeName(reflect.TypeFor[T]()), NameOf(r))
	}
	return v, nil
}

// Take removes the resource for id and returns it as a T without closing
// it; responsibility for clean-up moves to the caller. On a type mismatch
// the entry is left in place.
func Take[T any](t *Table, id ID) (T, error) {
	var zero T

	t.mu.Lock()
	r, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return zero, errors.BadResourceID(uint32(id))
	}
	v, ok := r.(T)
	if !ok {
		t.mu.Unlock()
		return zero, errors.TypeMismatch(uint32(id), typeName(reflect.TypeFor[T]()), NameOf(r))
	}
	delete(t.entries, id)
	t.mu.Unlock()

	t.notify(Event{Type: EventTaken, ID: id, Value: r})
	return v, nil
}
