// Package apperr defines the errors resolvers report to clients. Each error
// keeps its human-readable message and exposes a machine-readable code
// through Extensions.
package apperr

import (
	"errors"
	"fmt"

	"github.com/eaverdeja/blograph/internal/storage"
)

// Kind classifies an Error for clients.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindValidation
	KindStorage
)

// Code returns the extensions.code value reported for k.
func (k Kind) Code() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnauthorized:
		return "UNAUTHENTICATED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindValidation:
		return "BAD_USER_INPUT"
	case KindStorage:
		return "STORAGE_ERROR"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// Fixed client-facing messages.
const (
	MsgTokenNotProvided = "Unathorized! Token not provided!"
	MsgInvalidToken     = "Unathorized! Invalid token!"
	MsgWrongCredentials = "Unathorized, wrong email or password!"
	MsgNotPostAuthor    = "Unathorized! You can only edit posts created by yourself!"
	MsgNotCommentAuthor = "Unathorized! You can only edit comments created by yourself!"
	msgInternal         = "Internal server error"
)

// Error is a resolver failure with a client-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Extensions is merged into the GraphQL error's extensions.
func (e *Error) Extensions() map[string]any {
	return map[string]any{"code": e.Kind.Code()}
}

// NotFound reports that no entity record has id.
func NotFound(entity storage.Entity, id int64) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s with id %d not found", entity, id), Err: storage.ErrNotFound}
}

// Unauthorized reports a missing or rejected credential.
func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }

// Forbidden reports a caller acting on a record it does not own.
func Forbidden(msg string) *Error { return &Error{Kind: KindForbidden, Message: msg} }

// Validation reports bad input with a formatted message.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Internal hides err's message from clients; the cause stays reachable with
// errors.Unwrap for logging.
func Internal(err error) *Error { return &Error{Kind: KindInternal, Message: msgInternal, Err: err} }

// From classifies err. Errors already carrying a kind pass through.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, storage.ErrUniqueViolation):
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	case errors.Is(err, storage.ErrUnknownAttribute), errors.Is(err, storage.ErrUnknownEntity):
		return Internal(err)
	default:
		return &Error{Kind: KindStorage, Message: err.Error(), Err: err}
	}
}

// Is reports whether err is an apperr of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
