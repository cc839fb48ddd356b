package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCollect  Phase = "collect"  // declaration registration
	PhaseLink     Phase = "link"     // type classification and grouping
	PhaseGenerate Phase = "generate" // source emission
	PhaseEncode   Phase = "encode"   // host to boundary
	PhaseDecode   Phase = "decode"   // boundary to host
	PhaseDispatch Phase = "dispatch" // overload selection
	PhaseLifetime Phase = "lifetime" // handle table operations
	PhaseNative   Phase = "native"   // inside a native thunk
	PhaseLoad     Phase = "load"     // declaration file loading
)

// Kind categorizes the error
type Kind string

const (
	KindDuplicateDeclaration Kind = "duplicate_declaration"
	KindUnknownBase          Kind = "unknown_base"
	KindUnmappableType       Kind = "unmappable_type"
	KindNameCollision        Kind = "name_collision"
	KindMultipleInheritance  Kind = "multiple_inheritance"
	KindNoOpenDeclaration    Kind = "no_open_declaration"
	KindInvalidInput         Kind = "invalid_input"
	KindNoMatchingOverload   Kind = "no_matching_overload"
	KindAmbiguousOverload    Kind = "ambiguous_overload"
	KindInvalidHandle        Kind = "invalid_handle"
	KindDoubleRelease        Kind = "double_release"
	KindNotShared            Kind = "not_shared"
	KindNotConstructible     Kind = "not_constructible"
	KindNotFound             Kind = "not_found"
	KindTypeMismatch         Kind = "type_mismatch"
	KindNativeException      Kind = "native_exception"
	KindMissingExport        Kind = "missing_export"
)

// Sentinels for errors.Is, one per kind.
var (
	ErrDuplicateDeclaration = &Error{Kind: KindDuplicateDeclaration}
	ErrUnknownBase          = &Error{Kind: KindUnknownBase}
	ErrUnmappableType       = &Error{Kind: KindUnmappableType}
	ErrNameCollision        = &Error{Kind: KindNameCollision}
	ErrMultipleInheritance  = &Error{Kind: KindMultipleInheritance}
	ErrNoOpenDeclaration    = &Error{Kind: KindNoOpenDeclaration}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrNoMatchingOverload   = &Error{Kind: KindNoMatchingOverload}
	ErrAmbiguousOverload    = &Error{Kind: KindAmbiguousOverload}
	ErrInvalidHandle        = &Error{Kind: KindInvalidHandle}
	ErrDoubleRelease        = &Error{Kind: KindDoubleRelease}
	ErrNotShared            = &Error{Kind: KindNotShared}
	ErrNotConstructible     = &Error{Kind: KindNotConstructible}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrTypeMismatch         = &Error{Kind: KindTypeMismatch}
	ErrNativeException      = &Error{Kind: KindNativeException}
	ErrMissingExport        = &Error{Kind: KindMissingExport}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Decl   string
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

	if e.Decl != "" {
		b.WriteString(" in ")
		b.WriteString(e.Decl)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
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

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
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

// Decl sets the declaration the error is about
func (b *Builder) Decl(name string) *Builder {
	b.err.Decl = name
	return b
}

// Path sets the position path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
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

// Convenience constructors for common error patterns

// DuplicateDeclaration reports a name registered twice.
func DuplicateDeclaration(what, name string) *Error {
	return &Error{
		Phase:  PhaseCollect,
		Kind:   KindDuplicateDeclaration,
		Decl:   name,
		Detail: fmt.Sprintf("%s %q is already declared", what, name),
	}
}

// UnknownBase reports a base class that was not declared before its subclass.
func UnknownBase(class, base string) *Error {
	return &Error{
		Phase:  PhaseCollect,
		Kind:   KindUnknownBase,
		Decl:   class,
		Detail: fmt.Sprintf("base class %q is not declared", base),
	}
}

// UnmappableType reports a type that cannot cross the boundary. Position is
// the parameter index, or -1 for a return type or field.
func UnmappableType(decl string, position int, typ string, reason string) *Error {
	e := &Error{
		Phase:  PhaseLink,
		Kind:   KindUnmappableType,
		Decl:   decl,
		Detail: fmt.Sprintf("type %q: %s", typ, reason),
	}
	if position >= 0 {
		e.Path = []string{fmt.Sprintf("param %d", position)}
	}
	return e
}

// NameCollision reports a field and a method sharing a name in one class.
func NameCollision(class, name string) *Error {
	return &Error{
		Phase:  PhaseCollect,
		Kind:   KindNameCollision,
		Decl:   class,
		Detail: fmt.Sprintf("%q is declared both as a field and as a method", name),
	}
}

// NoMatchingOverload reports that no candidate accepts the given arguments.
func NoMatchingOverload(name string, args []string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindNoMatchingOverload,
		Decl:   name,
		Detail: fmt.Sprintf("no overload accepts (%s)", strings.Join(args, ", ")),
	}
}

// AmbiguousOverload reports several equally good candidates.
func AmbiguousOverload(name string, args []string, candidates []string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindAmbiguousOverload,
		Decl:   name,
		Detail: fmt.Sprintf("(%s) matches %s", strings.Join(args, ", "), strings.Join(candidates, " and ")),
	}
}

// InvalidHandle reports an unknown or released handle id.
func InvalidHandle(id uint64) *Error {
	return &Error{
		Phase:  PhaseLifetime,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("handle %d is not live", id),
		Value:  id,
	}
}

// DoubleRelease reports a release on a handle that is already gone.
func DoubleRelease(id uint64) *Error {
	return &Error{
		Phase:  PhaseLifetime,
		Kind:   KindDoubleRelease,
		Detail: fmt.Sprintf("handle %d was already released", id),
		Value:  id,
	}
}

// NativeException wraps a failure raised inside a native thunk.
func NativeException(symbol string, message string, cause error) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindNativeException,
		Decl:   symbol,
		Detail: message,
		Cause:  cause,
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

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
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

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
