// Package gradererr centralizes the error taxonomy used across the store,
// sandbox, executor and dispatch packages so callers can errors.Is/As
// against one shared vocabulary instead of matching error strings.
package gradererr

import "fmt"

// Kind classifies why an operation failed.
type Kind string

const (
	KindIO              Kind = "IO"
	KindExists          Kind = "EXISTS"
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindTooManyExecs    Kind = "TOO_MANY_EXECUTIONS"
	KindSandboxSetup    Kind = "SANDBOX_SETUP_ERROR"
	KindInternal        Kind = "INTERNAL_ERROR"
)

// Error is the taxonomy-tagged error type produced by this repository's
// components. Op names the failing operation and Path, when set, names the
// artifact or file the operation was acting on.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath attaches a path to a taxonomy error, returning the same error
// mutated for convenient chaining at the call site.
func WithPath(err *Error, path string) *Error {
	err.Path = path
	return err
}

// Is lets errors.Is(err, gradererr.KindNotFound) work by comparing Kind,
// since Kind values aren't themselves errors — helper predicates below
// wrap the pattern for the common cases.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// TooManyExecutions reports whether err is the Thread Guard's fail-fast
// admission error.
func TooManyExecutions(err error) bool { return Is(err, KindTooManyExecs) }

// NotFound reports whether err is a not-found taxonomy error.
func NotFound(err error) bool { return Is(err, KindNotFound) }
