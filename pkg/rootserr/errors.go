// Package rootserr defines the error taxonomy surfaced to callers of the
// tree engine (spec §7): a small set of named kinds wrapping the usual Go
// error, so callers can type-switch on Kind instead of string-matching
// messages, the way freyjadb's store package exposes sentinel errors for
// KVStore callers to check with errors.Is.
package rootserr

import (
	"errors"
	"fmt"
)

// Kind names one of the error categories in spec §7. It is a taxonomy, not
// a type hierarchy: every Kind is carried by the single *Error type below.
type Kind int

const (
	// Other wraps miscellaneous failures that don't fit a more specific Kind.
	Other Kind = iota
	// InvalidTreeName means a tree name violates the charset or is the
	// reserved "_transactions" name.
	InvalidTreeName
	// ValueTooLarge means a value or transaction chunk exceeds 2^32-1 bytes.
	ValueTooLarge
	// DataIntegrity means a CRC mismatch, decryption failure, unknown header
	// byte, wrong tree type for file, or no valid root could be discovered.
	DataIntegrity
	// TreeCompacted means the read or write executed against a file
	// identity that a compaction has since replaced. Not fatal: callers
	// retry by reopening.
	TreeCompacted
	// Conflict means a CompareAndSwap's expected value didn't match the
	// current value.
	Conflict
	// IO wraps an underlying OS error.
	IO
)

func (k Kind) String() string {
	switch k {
	case InvalidTreeName:
		return "InvalidTreeName"
	case ValueTooLarge:
		return "ValueTooLarge"
	case DataIntegrity:
		return "DataIntegrity"
	case TreeCompacted:
		return "TreeCompacted"
	case Conflict:
		return "Conflict"
	case IO:
		return "IO"
	default:
		return "Other"
	}
}

// Error is the concrete error type surfaced for every Kind in the taxonomy.
type Error struct {
	Kind    Kind
	Message string
	// Actual carries the current value for a Conflict error (spec §7).
	Actual []byte
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, rootserr.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewConflict builds the CompareAndSwap conflict error carrying the current value.
func NewConflict(actual []byte) *Error {
	return &Error{Kind: Conflict, Message: "compare-and-swap: value mismatch", Actual: actual}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
