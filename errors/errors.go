package errors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates which part of the boundary produced the error
type Phase string

const (
	PhaseArena    Phase = "arena"    // linear memory allocation
	PhaseHandle   Phase = "handle"   // handle table operations
	PhaseCallback Phase = "callback" // closure registration and invocation
	PhaseBundle   Phase = "bundle"   // render bundle recording
	PhaseLink     Phase = "link"     // module instantiation
	PhaseRuntime  Phase = "runtime"  // start and entry calls
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseGateway  Phase = "gateway"  // session gateway relay
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfMemory     Kind = "out_of_memory"
	KindInvalidHandle   Kind = "invalid_handle"
	KindInvalidState    Kind = "invalid_state"
	KindLink            Kind = "link_error"
	KindCallbackFailure Kind = "callback_failure"
	KindInvalidInput    Kind = "invalid_input"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindTypeMismatch    Kind = "type_mismatch"
	KindNotFound        Kind = "not_found"
	KindMissingImport   Kind = "missing_import"
	KindTrap            Kind = "trap"
	KindConnection      Kind = "connection"
)

// Kind-only sentinels. They match any *Error of the same kind regardless of phase.
var (
	ErrOutOfMemory     = &Error{Kind: KindOutOfMemory}
	ErrInvalidHandle   = &Error{Kind: KindInvalidHandle}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrLink            = &Error{Kind: KindLink}
	ErrCallbackFailure = &Error{Kind: KindCallbackFailure}
)

// Error is the structured error type used across the boundary
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

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

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
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

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
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

// Path sets the field path
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

// OutOfMemory creates an allocation failure error
func OutOfMemory(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("cannot allocate %d bytes (align %d)", size, align),
		Value:  size,
	}
}

// InvalidHandle creates an error for a freed or unknown handle
func InvalidHandle(phase Phase, what string, handle uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("%s %d is not live", what, handle),
		Value:  handle,
	}
}

// InvalidState creates an error for an operation the current state forbids
func InvalidState(phase Phase, op, state string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("%s not allowed in state %s", op, state),
	}
}

// CallbackFailure wraps an error raised inside a host-invoked closure
func CallbackFailure(slot uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseCallback,
		Kind:   KindCallbackFailure,
		Detail: fmt.Sprintf("closure in slot %d failed", slot),
		Value:  slot,
		Cause:  cause,
	}
}

// OutOfBounds creates a memory range error
func OutOfBounds(phase Phase, offset, length, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) outside memory of %d bytes", offset, uint64(offset)+uint64(length), size),
		Value:  offset,
	}
}

// TypeMismatch creates an error for arguments that do not fit a signature
func TypeMismatch(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Detail: detail,
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

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Link creates a module instantiation failure
func Link(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindLink,
		Detail: detail,
		Cause:  cause,
	}
}

// Trap reports a call into the module that aborted. The cause keeps the
// host error that raised the trap, if any.
func Trap(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Detail: fmt.Sprintf("call to %s trapped", export),
		Path:   []string{export},
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

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "gfx"
	Function  string // e.g., "arena_alloc"
}

// MissingImportsError lists host functions a module needs but the import table lacks
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func parseImportKey(key string) (namespace, function string) {
	ns, fn, found := strings.Cut(key, "#")
	if found {
		return ns, fn
	}
	return key, ""
}

// demangleRust turns a legacy Rust symbol (_ZN<len><ident>...E) into a path
// such as core::ptr::write_fn, dropping the hash disambiguator.
func demangleRust(name string) string {
	rest, ok := strings.CutPrefix(name, "_ZN")
	if !ok {
		return name
	}

	var path []string
	for rest != "" && rest[0] != 'E' {
		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		n, err := strconv.Atoi(rest[:digits])
		if err != nil || n > len(rest)-digits {
			break
		}
		ident := rest[digits : digits+n]
		rest = rest[digits+n:]
		if !isRustHash(ident) {
			path = append(path, ident)
		}
	}

	if len(path) == 0 {
		return name
	}
	return strings.Join(path, "::")
}

// isRustHash matches the h<16 lowercase hex> segment.
func isRustHash(s string) bool {
	if len(s) != 17 || s[0] != 'h' || strings.ToLower(s) != s {
		return false
	}
	_, err := strconv.ParseUint(s[1:], 16, 64)
	return err == nil
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] missing_import: no imports specified"
	}

	var (
		order   []string
		grouped = make(map[string][]string)
	)
	for _, imp := range e.Imports {
		if _, seen := grouped[imp.Namespace]; !seen {
			order = append(order, imp.Namespace)
		}
		grouped[imp.Namespace] = append(grouped[imp.Namespace], demangleRust(imp.Function))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d host function(s):\n", len(e.Imports))
	for _, ns := range order {
		fmt.Fprintf(&b, "\n  %s:\n", ns)
		for _, fn := range grouped[ns] {
			fmt.Fprintf(&b, "    - %s\n", fn)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
