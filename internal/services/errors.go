package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the category of a failed filesystem or quota operation.
// The HTTP layer maps each kind to a status code.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindQuotaExceeded
	KindInvalidArgument
	// KindInvalidOperation is a well-formed request that the tree cannot
	// honour, such as moving a folder into its own subtree.
	KindInvalidOperation
	// KindInvariantViolation means stored state is inconsistent, or a
	// compensating action failed and left it so.
	KindInvariantViolation
	KindStorageBackendError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindStorageBackendError:
		return "storage_backend_error"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict            = &Error{Kind: KindConflict, Message: "conflict"}
	ErrQuotaExceeded       = &Error{Kind: KindQuotaExceeded, Message: "storage quota exceeded"}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrInvalidOperation    = &Error{Kind: KindInvalidOperation, Message: "invalid operation"}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation, Message: "invariant violation"}
	ErrStorageBackendError = &Error{Kind: KindStorageBackendError, Message: "storage backend error"}
)

// Error is a domain error. Message is safe to show to clients; Err carries
// the underlying cause for logs and must never reach a response body.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PublicMessage returns the client-facing message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func notFound(message string) *Error {
	return newError(KindNotFound, message, nil)
}

func conflict(message string) *Error {
	return newError(KindConflict, message, nil)
}

func invalidArgument(message string) *Error {
	return newError(KindInvalidArgument, message, nil)
}

func invalidOperation(message string) *Error {
	return newError(KindInvalidOperation, message, nil)
}

func invariantViolation(message string, cause error) *Error {
	return newError(KindInvariantViolation, message, cause)
}

func storageBackendError(message string, cause error) *Error {
	return newError(KindStorageBackendError, message, cause)
}
