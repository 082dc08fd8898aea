package op

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/marshal"
)

// ID identifies an op in the table. 0 is reserved.
type ID uint32

// Kind is an op's calling convention.
type Kind uint8

const (
	KindSync Kind = iota
	KindAsync
)

func (k Kind) String() string {
	if k == KindAsync {
		return "async"
	}
	return "sync"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Void marks an unused argument or an empty result.
type Void struct{}

// Payload carries one invocation's raw arguments.
type Payload struct {
	A, B      any
	Codec     marshal.Decoder
	OpID      ID
	PromiseID uint32
}

// Decode converts argument i (0 or 1) into the value pointed to by into.
// Decoding into *Void always succeeds.
func (p *Payload) Decode(i int, into any) error {
	if _, ok := into.(*Void); ok {
		return nil
	}

	native := p.A
	if i == 1 {
		native = p.B
	}
	codec := p.Codec
	if codec == nil {
		codec = marshal.Default
	}

	path := fmt.Sprintf("args[%d]", i)
	if err := codec.Decode(native, into); err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) && e.Kind == errors.KindArgumentDecode {
			out := *e
			out.Path = append([]string{path}, e.Path...)
			return &out
		}
		return errors.ArgumentDecode(path, err)
	}
	return nil
}

// OutcomeKind tells the call boundary what a handler produced.
type OutcomeKind uint8

const (
	OutcomeSync OutcomeKind = iota
	OutcomeAsync
	OutcomeNotFound
)

// Outcome is the result of routing one call: a value or error available now,
// a future to queue, or no handler at all.
type Outcome struct {
	value  any
	err    error
	future *Future
	kind   OutcomeKind
}

// Ready is an outcome available immediately.
func Ready(v any, err error) Outcome {
	return Outcome{value: v, err: err, kind: OutcomeSync}
}

// Pending is an outcome the driver must poll.
func Pending(f *Future) Outcome {
	return Outcome{future: f, kind: OutcomeAsync}
}

// Missing is the outcome for an id with no handler.
func Missing() Outcome {
	return Outcome{kind: OutcomeNotFound}
}

func (o Outcome) Kind() OutcomeKind   { return o.kind }
func (o Outcome) Value() (any, error) { return o.value, o.err }
func (o Outcome) Future() *Future     { return o.future }

// Handler runs one invocation of an op.
type Handler func(s *State, p *Payload) Outcome

// Op is a named host function with a calling convention.
type Op struct {
	Handler Handler
	Name    string
	Kind    Kind
	// Unref async ops do not keep the event loop alive until the script
	// refs them.
	Unref bool
}

// Sync builds an op whose body completes before returning to the script.
func Sync[A, B, R any](name string, fn func(s *State, a A, b B) (R, error)) Op {
	return Op{
		Name: name,
		Kind: KindSync,
		Handler: func(s *State, p *Payload) Outcome {
			a, b, err := decodeArgs[A, B](p)
			if err != nil {
				return Ready(nil, err)
			}
			r, err := fn(s, a, b)
			if err != nil {
				return Ready(nil, err)
			}
			return Ready(result(r), nil)
		},
	}
}

// Async builds an op whose body runs on its own goroutine. Argument
// decoding happens before the goroutine starts; a decode failure is
// reported synchronously and nothing is queued.
func Async[A, B, R any](name string, fn func(ctx context.Context, s *State, a A, b B) (R, error)) Op {
	return Op{
		Name: name,
		Kind: KindAsync,
		Handler: func(s *State, p *Payload) Outcome {
			a, b, err := decodeArgs[A, B](p)
			if err != nil {
				return Ready(nil, err)
			}

			f := NewFuture()
			go func() {
				defer func() {
					if r := recover(); r != nil {
						Logger().Error("async op panicked",
							zap.String("op", name),
							zap.Any("panic", r))
						f.Resolve(nil, errors.New(errors.PhaseOp, errors.KindInternal).
							Detail("%s panicked: %v", name, r).
							Build())
					}
				}()
				r, err := fn(s.Context(), s, a, b)
				if err != nil {
					f.Resolve(nil, err)
					return
				}
				f.Resolve(result(r), nil)
			}()
			return Pending(f)
		},
	}
}

// AsyncUnref is Async for ops whose pending result should not keep the
// event loop alive, such as a long-lived accept or signal wait.
func AsyncUnref[A, B, R any](name string, fn func(ctx context.Context, s *State, a A, b B) (R, error)) Op {
	o := Async(name, fn)
	o.Unref = true
	return o
}

func decodeArgs[A, B any](p *Payload) (A, B, error) {
	var a A
	var b B
	if err := p.Decode(0, &a); err != nil {
		return a, b, err
	}
	if err := p.Decode(1, &b); err != nil {
		return a, b, err
	}
	return a, b, nil
}

func result(r any) any {
	if _, ok := r.(Void); ok {
		return nil
	}
	return r
}
