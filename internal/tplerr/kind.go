// Package tplerr defines the error-kind taxonomy shared across the build
// pipeline so callers can distinguish configuration mistakes from registry
// failures from internal bugs without string-matching messages.
package tplerr

import "fmt"

// Kind classifies an error for the purpose of exit-code mapping and
// caller decision making (e.g. whether to attempt a fetch).
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindTemplate       Kind = "template"
	KindContext        Kind = "context"
	KindGraph          Kind = "graph"
	KindNoSourceImage  Kind = "no-source-image"
	KindRegistry       Kind = "registry"
	KindClient         Kind = "client"
	KindInternal       Kind = "internal"
)

// Error wraps a cause with a Kind so errors.Is/errors.As compose across
// github.com/pkg/errors-wrapped causes.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same Kind, so
// errors.Is(err, tplerr.New(KindGraph, "")) style checks work as a kind
// test regardless of message/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of err if it (or a wrapped cause) is a *Error,
// otherwise returns KindInternal as the conservative default.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindInternal
}

// ExitCode maps a Kind to a process exit status, grounded on the
// teacher's cmd/cip error-to-exit-code convention of small distinct
// non-zero codes per failure class.
func ExitCode(k Kind) int {
	switch k {
	case KindConfiguration:
		return 2
	case KindTemplate:
		return 3
	case KindContext:
		return 4
	case KindGraph:
		return 5
	case KindNoSourceImage:
		return 6
	case KindRegistry:
		return 7
	case KindClient:
		return 8
	default:
		return 1
	}
}
