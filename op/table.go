package op

import (
	stderrors "errors"

	"github.com/wippyai/opcore/errors"
)

// Entry is one row of the op table.
type Entry struct {
	Name string `json:"name"`
	ID   ID     `json:"id"`
	Kind Kind   `json:"kind"`
}

// Table maps dense op ids to ops. It is immutable once built.
type Table struct {
	byName map[string]ID
	ops    []Op
	exts   []*Extension
}

// NewTable registers the ops of exts in order. The first op gets id 1.
// Middleware from every extension is applied to every op, in extension
// order.
func NewTable(exts ...*Extension) (*Table, error) {
	var mws []Middleware
	total := 0
	for _, ext := range exts {
		mws = append(mws, ext.middleware...)
		total += len(ext.ops)
	}

	t := &Table{
		byName: make(map[string]ID, total),
		ops:    make([]Op, 1, total+1),
		exts:   exts,
	}

	for _, ext := range exts {
		for _, o := range ext.ops {
			if err := checkOp(ext, o); err != nil {
				return nil, err
			}
			for _, mw := range mws {
				o = mw(o.Name, o)
			}
			// middleware may rename or replace the op
			if err := checkOp(ext, o); err != nil {
				return nil, err
			}
			if _, dup := t.byName[o.Name]; dup {
				return nil, errors.Registration(ext.name, o.Name, stderrors.New("op name already registered"))
			}
			id := ID(len(t.ops))
			t.ops = append(t.ops, o)
			t.byName[o.Name] = id
		}
	}

	return t, nil
}

func checkOp(ext *Extension, o Op) error {
	if o.Name == "" {
		return errors.Registration(ext.name, "<unnamed>", stderrors.New("op name is empty"))
	}
	if o.Handler == nil {
		return errors.Registration(ext.name, o.Name, stderrors.New("op has no handler"))
	}
	return nil
}

// Get returns the op for id.
func (t *Table) Get(id ID) (Op, bool) {
	if id == 0 || int(id) >= len(t.ops) {
		return Op{}, false
	}
	return t.ops[id], true
}

// Lookup returns the id registered for name.
func (t *Table) Lookup(name string) (ID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Route invokes the handler for id, or returns a not-found outcome.
func (t *Table) Route(id ID, s *State, p *Payload) Outcome {
	o, ok := t.Get(id)
	if !ok {
		return Missing()
	}
	return o.Handler(s, p)
}

// Map returns a fresh name to id map for the script-side bootstrap.
func (t *Table) Map() map[string]ID {
	out := make(map[string]ID, len(t.byName))
	for name, id := range t.byName {
		out[name] = id
	}
	return out
}

// Entries returns every op in id order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.ops)-1)
	for id := 1; id < len(t.ops); id++ {
		o := t.ops[id]
		out = append(out, Entry{Name: o.Name, ID: ID(id), Kind: o.Kind})
	}
	return out
}

// Len returns the number of registered ops.
func (t *Table) Len() int {
	return len(t.ops) - 1
}

// Extensions returns the registered extensions in order.
func (t *Table) Extensions() []*Extension {
	return t.exts
}
