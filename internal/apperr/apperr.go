// Package apperr defines the small closed set of error kinds that the
// provider, processing and lifecycle layers exchange. Callers branch on the
// kind rather than on concrete error types.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by what the caller should do about it.
type Kind int

const (
	// Fatal errors are not worth retrying in the current cycle.
	Fatal Kind = iota
	// AuthRequired means no usable credential exists for the user.
	AuthRequired
	// AuthExpired means the credential exists but was rejected or revoked.
	AuthExpired
	// Transient errors may succeed on a later attempt.
	Transient
	// HistoryExpired means a history start id is older than the provider
	// retains. Retrying with the same id can never succeed.
	HistoryExpired
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case AuthRequired:
		return "auth_required"
	case AuthExpired:
		return "auth_expired"
	case Transient:
		return "transient"
	case HistoryExpired:
		return "history_expired"
	default:
		return "fatal"
	}
}

// Error carries a Kind alongside the failing operation and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain. Errors without
// a kind are Fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// IsAuth reports whether err is an AuthRequired or AuthExpired error.
func IsAuth(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == AuthRequired || k == AuthExpired
}

// IsHistoryExpired reports whether err is a HistoryExpired error.
func IsHistoryExpired(err error) bool {
	return err != nil && KindOf(err) == HistoryExpired
}

// IsTransient reports whether err is a Transient error.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == Transient
}
