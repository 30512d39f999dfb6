// Package errs defines the single domain error kind raised by every
// validation, compilation and execution failure in geoquery.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind discriminates the category of a DataError without forcing callers
// to string-match the message.
type Kind string

const (
	KindEnvelope  Kind = "envelope"
	KindResource  Kind = "resource"
	KindField     Kind = "field"
	KindOperator  Kind = "operator"
	KindExecution Kind = "execution"
	KindTimeout   Kind = "timeout"
)

// DataError is the single error kind raised by the catalog resolver, the
// query compiler and the execution engine. It carries a human-readable
// message and an optional wrapped cause (e.g. the pgx error behind a
// timeout).
type DataError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *DataError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *DataError) Unwrap() error {
	return e.Cause
}

// New builds a DataError with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *DataError {
	return &DataError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a DataError around an existing cause, preserving it via
// pkg/errors so callers can still recover the original error chain with
// errors.Cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *DataError {
	return &DataError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   errors.Wrap(cause, fmt.Sprintf(format, args...)),
	}
}

// Is reports whether err is a *DataError of the given kind.
func Is(err error, kind Kind) bool {
	de, ok := err.(*DataError)
	if !ok {
		return false
	}
	return de.Kind == kind
}
