// Package faults defines the engine's error taxonomy. Every error that
// crosses a package boundary is classified into one of four kinds so
// callers can branch on kind instead of string matching.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind partitions engine failures by caller-visible contract.
type Kind string

const (
	// InvalidInput rejects malformed events synchronously: bad address
	// format, non-positive amount. Never stored, never retried.
	InvalidInput Kind = "invalid_input"

	// NotFound marks a wallet absent from the graph. Queries translate
	// this into an empty result, not a failure.
	NotFound Kind = "not_found"

	// ResourceExhausted marks a trace that hit its depth or chain cap.
	// Results are partial and carry truncated=true.
	ResourceExhausted Kind = "resource_exhausted"

	// Internal marks unexpected failures (a detector panic, a store
	// fault). One detector's Internal error never aborts the others.
	Internal Kind = "internal"
)

// Fault is the concrete error type carried across the engine.
type Fault struct {
	Kind    Kind
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// New builds a Fault of the given kind.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new Fault, preserving the chain for errors.Is/As.
func Wrap(kind Kind, cause error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, walking wrapped chains.
// Unclassified errors report Internal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a fault kind to the status the API layer returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case ResourceExhausted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
