package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseResource Phase = "resource" // resource table operations
	PhaseDispatch Phase = "dispatch" // op lookup and calling convention
	PhaseDecode   Phase = "decode"   // native value to Go argument
	PhaseEncode   Phase = "encode"   // Go result to native value
	PhaseOp       Phase = "op"       // op body
	PhaseLoop     Phase = "loop"     // event loop driver
	PhaseRegister Phase = "register" // op and extension registration
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseLoad     Phase = "load"     // script and addon loading
)

// Kind categorizes the error
type Kind string

const (
	KindBadResourceID        Kind = "bad_resource_id"
	KindResourceTypeMismatch Kind = "resource_type_mismatch"
	KindNotSupported         Kind = "not_supported"
	KindUnknownOp            Kind = "unknown_op"
	KindCallingConvention    Kind = "calling_convention"
	KindArgumentDecode       Kind = "argument_decode"
	KindCancelled            Kind = "cancelled"
	KindOp                   Kind = "op"
	KindInvalidInput         Kind = "invalid_input"
	KindRegistration         Kind = "registration"
	KindNotFound             Kind = "not_found"
	KindEncode               Kind = "encode"
	KindInternal             Kind = "internal"
)

// Script-visible error classes.
const (
	ClassError            = "Error"
	ClassTypeError        = "TypeError"
	ClassBadResource      = "BadResource"
	ClassNotSupported     = "NotSupported"
	ClassInterrupted      = "Interrupted"
	ClassNotFound         = "NotFound"
	ClassAlreadyExists    = "AlreadyExists"
	ClassPermissionDenied = "PermissionDenied"
	ClassTimedOut         = "TimedOut"
	ClassUnexpectedEOF    = "UnexpectedEof"
	ClassConnRefused      = "ConnectionRefused"
	ClassConnReset        = "ConnectionReset"
	ClassBrokenPipe       = "BrokenPipe"
	ClassAddrInUse        = "AddrInUse"
	ClassInvalidData      = "InvalidData"
)

var kindClass = map[Kind]string{
	KindBadResourceID:        ClassBadResource,
	KindResourceTypeMismatch: ClassBadResource,
	KindNotSupported:         ClassNotSupported,
	KindUnknownOp:            ClassTypeError,
	KindCallingConvention:    ClassTypeError,
	KindArgumentDecode:       ClassTypeError,
	KindCancelled:            ClassInterrupted,
	KindInvalidInput:         ClassTypeError,
	KindNotFound:             ClassNotFound,
	KindEncode:               ClassTypeError,
}

// Sentinels for errors.Is checks by kind.
var (
	ErrBadResourceID        = &Error{Kind: KindBadResourceID}
	ErrResourceTypeMismatch = &Error{Kind: KindResourceTypeMismatch}
	ErrNotSupported         = &Error{Kind: KindNotSupported}
	ErrUnknownOp            = &Error{Kind: KindUnknownOp}
	ErrCallingConvention    = &Error{Kind: KindCallingConvention}
	ErrArgumentDecode       = &Error{Kind: KindArgumentDecode}
	ErrCancelled            = &Error{Kind: KindCancelled}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrRegistration         = &Error{Kind: KindRegistration}
	ErrInternal             = &Error{Kind: KindInternal}
	ErrLoad                 = &Error{Phase: PhaseLoad, Kind: KindInvalidInput}
)

// Error is the structured error type used throughout the kernel
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Class  string
	Code   string
	GoType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message is the script-facing text: the detail if present, otherwise the
// cause, otherwise the kind.
func (e *Error) Message() string {
	switch {
	case e.Detail != "" && e.Cause != nil:
		return e.Detail + ": " + e.Cause.Error()
	case e.Detail != "":
		return e.Detail
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return string(e.Kind)
	}
}

// ClassName returns the script-visible class, falling back to the kind's
// default class and finally to "Error".
func (e *Error) ClassName() string {
	if e.Class != "" {
		return e.Class
	}
	if c, ok := kindClass[e.Kind]; ok {
		return c
	}
	return ClassError
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the argument path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Class sets the script-visible class name
func (b *Builder) Class(c string) *Builder {
	b.err.Class = c
	return b
}

// Code sets the OS error code name
func (b *Builder) Code(c string) *Builder {
	b.err.Code = c
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Kernel convenience constructors

// BadResourceID reports an id that is not currently live.
func BadResourceID(id uint32) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindBadResourceID,
		Detail: fmt.Sprintf("bad resource id %d", id),
		Value:  id,
	}
}

// TypeMismatch reports a live id whose resource is not the requested type.
func TypeMismatch(id uint32, want, got string) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindResourceTypeMismatch,
		GoType: got,
		Detail: fmt.Sprintf("resource %d is not a %s", id, want),
		Value:  id,
	}
}

// NotSupported reports a capability the resource does not implement.
func NotSupported(what string) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindNotSupported,
		Detail: fmt.Sprintf("%s is not supported", what),
	}
}

// UnknownOp reports an op id without a registered handler.
func UnknownOp(id uint32) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnknownOp,
		Detail: fmt.Sprintf("unknown op id: %d", id),
		Value:  id,
	}
}

// CallingConvention reports an op invoked through the wrong entry point.
// async is true when an async op was called synchronously.
func CallingConvention(id uint32, name string, async bool) *Error {
	detail := fmt.Sprintf("can not call a sync op [%d] %s with opAsync()", id, name)
	if async {
		detail = fmt.Sprintf("can not call an async op [%d] %s with opSync()", id, name)
	}
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindCallingConvention,
		Detail: detail,
		Value:  id,
	}
}

// ArgumentDecode reports a native value that does not fit the argument shape.
func ArgumentDecode(path string, cause error) *Error {
	e := &Error{
		Phase:  PhaseDecode,
		Kind:   KindArgumentDecode,
		Detail: "invalid argument",
		Cause:  cause,
	}
	if path != "" {
		e.Path = []string{path}
	}
	return e
}

// Cancelled reports an op that observed its resource's cancellation.
func Cancelled(what string) *Error {
	return &Error{
		Phase:  PhaseOp,
		Kind:   KindCancelled,
		Detail: fmt.Sprintf("%s: operation canceled", what),
	}
}

// Op wraps an op-specific business error with a stable class name.
func Op(class string, cause error) *Error {
	return &Error{
		Phase: PhaseOp,
		Kind:  KindOp,
		Class: class,
		Code:  CodeOf(cause),
		Cause: cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(extension, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", extension, name),
		Cause:  cause,
	}
}

// Load creates a script or addon loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Fatal aborts on an internal invariant violation. These indicate a
// programming defect, never a runtime contingency.
func Fatal(detail string, args ...any) {
	panic(&Error{
		Phase:  PhaseDispatch,
		Kind:   KindInternal,
		Detail: fmt.Sprintf(detail, args...),
	})
}
