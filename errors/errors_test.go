package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseDecode,
				Kind:   KindArgumentDecode,
				Path:   []string{"args", "a"},
				GoType: "int",
				Detail: "cannot convert",
			},
			contains: []string{"[decode]", "argument_decode", "args.a", "int", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseResource,
				Kind:  KindBadResourceID,
			},
			contains: []string{"[resource]", "bad_resource_id"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseOp,
				Kind:   KindOp,
				Detail: "open file",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[op]", "open file", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := BadResourceID(7)

	if !errors.Is(err, ErrBadResourceID) {
		t.Error("kind-only sentinel should match")
	}
	if errors.Is(err, ErrResourceTypeMismatch) {
		t.Error("different kind should not match")
	}
	if !err.Is(&Error{Phase: PhaseResource, Kind: KindBadResourceID}) {
		t.Error("same phase and kind should match")
	}
	if err.Is(&Error{Phase: PhaseDispatch, Kind: KindBadResourceID}) {
		t.Error("different phase should not match")
	}

	wrapped := fmt.Errorf("close: %w", err)
	if !errors.Is(wrapped, ErrBadResourceID) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseOp, KindOp, cause, "context")

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap did not return cause")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseOp, KindOp).
		Path("args", "b").
		GoType("string").
		Class("NotFound").
		Code("ENOENT").
		Value(42).
		Cause(cause).
		Detail("no such key %q", "k").
		Build()

	if err.Phase != PhaseOp || err.Kind != KindOp {
		t.Errorf("Phase/Kind = %v/%v", err.Phase, err.Kind)
	}
	if len(err.Path) != 2 || err.Path[1] != "b" {
		t.Errorf("Path = %v", err.Path)
	}
	if err.ClassName() != "NotFound" {
		t.Errorf("ClassName = %q, want NotFound", err.ClassName())
	}
	if err.Code != "ENOENT" {
		t.Errorf("Code = %q", err.Code)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if err.Detail != `no such key "k"` {
		t.Errorf("Detail = %q", err.Detail)
	}
	if err.Message() != `no such key "k": root` {
		t.Errorf("Message = %q", err.Message())
	}
}

func TestKindDefaultClasses(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{BadResourceID(1), ClassBadResource},
		{TypeMismatch(1, "File", "Socket"), ClassBadResource},
		{NotSupported("read"), ClassNotSupported},
		{UnknownOp(99), ClassTypeError},
		{CallingConvention(3, "op_sleep", true), ClassTypeError},
		{ArgumentDecode("a", errors.New("bad")), ClassTypeError},
		{Cancelled("accept"), ClassInterrupted},
		{Op("", errors.New("boom")), ClassError},
		{Op("Custom", errors.New("boom")), "Custom"},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			if got := tt.err.ClassName(); got != tt.want {
				t.Errorf("ClassName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallingConventionDetail(t *testing.T) {
	async := CallingConvention(4, "op_sleep", true)
	if !strings.Contains(async.Detail, "async op [4] op_sleep") {
		t.Errorf("unexpected detail %q", async.Detail)
	}
	sync := CallingConvention(5, "op_add", false)
	if !strings.Contains(sync.Detail, "sync op [5] op_add") {
		t.Errorf("unexpected detail %q", sync.Detail)
	}
}

func TestClassOf(t *testing.T) {
	pathErr := &fs.PathError{Op: "open", Path: "/nope", Err: syscall.ENOENT}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not exist", pathErr, ClassNotFound},
		{"exist", os.ErrExist, ClassAlreadyExists},
		{"permission", os.ErrPermission, ClassPermissionDenied},
		{"canceled", context.Canceled, ClassInterrupted},
		{"deadline", context.DeadlineExceeded, ClassTimedOut},
		{"eof", io.EOF, ClassUnexpectedEOF},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ClassConnRefused},
		{"plain", errors.New("plain"), ClassError},
		{"kernel error", BadResourceID(3), ClassBadResource},
		{"op without class", Op("", pathErr), ClassNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("ClassOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	pathErr := &fs.PathError{Op: "open", Path: "/nope", Err: syscall.ENOENT}
	if got := CodeOf(pathErr); got != "ENOENT" {
		t.Errorf("CodeOf() = %q, want ENOENT", got)
	}
	if got := CodeOf(errors.New("x")); got != "" {
		t.Errorf("CodeOf() = %q, want empty", got)
	}
}

func TestClassify(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		pathErr := &fs.PathError{Op: "open", Path: "/nope", Err: syscall.ENOENT}
		got := Classify(pathErr)
		if got.Kind != KindOp || got.Class != ClassNotFound || got.Code != "ENOENT" {
			t.Errorf("Classify() = %+v", got)
		}
		if !errors.Is(got, fs.ErrNotExist) {
			t.Error("classified error should keep its cause")
		}
	})

	t.Run("kernel error keeps kind", func(t *testing.T) {
		got := Classify(BadResourceID(9))
		if got.Kind != KindBadResourceID || got.Class != ClassBadResource {
			t.Errorf("Classify() = %+v", got)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if Classify(nil) != nil {
			t.Error("Classify(nil) should be nil")
		}
	})

	t.Run("already classified is returned as is", func(t *testing.T) {
		e := Op("Custom", errors.New("x"))
		if Classify(e) != e {
			t.Error("expected identical pointer")
		}
	})
}

func TestFatalPanics(t *testing.T) {
	defer func() {
		r := recover()
		e, ok := r.(*Error)
		if !ok {
			t.Fatalf("recovered %T, want *Error", r)
		}
		if e.Kind != KindInternal {
			t.Errorf("Kind = %v, want internal", e.Kind)
		}
	}()
	Fatal("counter collided at %d", 3)
}
