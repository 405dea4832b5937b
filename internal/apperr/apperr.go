package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide whether to retry,
// which HTTP status to answer with, and what to tell the user.
type Kind int

const (
	KindInternal Kind = iota
	KindPermission
	KindValidation
	KindUpload
	KindConnection
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindValidation:
		return "validation"
	case KindUpload:
		return "upload"
	case KindConnection:
		return "connection"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Permission(message string) *Error {
	return &Error{Kind: KindPermission, Message: message}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Upload(message string) *Error {
	return &Error{Kind: KindUpload, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Connection marks an operation that kept failing in a connectivity-shaped
// way; operation and attempts end up in the message so logs say which call
// gave up.
func Connection(operation string, attempts int, err error) *Error {
	return &Error{
		Kind:    KindConnection,
		Message: fmt.Sprintf("%s failed after %d attempts", operation, attempts),
		Err:     err,
	}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Plain errors classify as internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message for err, or a generic one for
// unclassified errors.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
