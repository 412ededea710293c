// Package apperror defines the error kinds shared by every layer and the
// mapping from kind to HTTP status used at the boundary.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrInternal         = errors.New("internal error")
	ErrValidation       = errors.New("validation error")
	ErrAuth             = errors.New("authentication error")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrIO               = errors.New("io error")
	ErrInference        = errors.New("inference error")
	ErrInferenceTimeout = errors.New("inference timeout")
	ErrPersistence      = errors.New("persistence error")
	ErrUnavailable      = errors.New("unavailable")
)

// Error annotates a failure with its kind, the operation that produced it and
// a message that is safe to show to clients.
type Error struct {
	Kind    error
	Op      string
	Message string
	Field   string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind sentinels and the cause to errors.Is/As.
// A timeout also unwraps to ErrInference.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 3)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Kind == ErrInferenceTimeout {
		errs = append(errs, ErrInference)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New builds an Error of the given kind.
func New(kind error, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

func Validation(op, message string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: message}
}

// ValidationField is a validation failure bound to a named input field.
func ValidationField(op, field, message string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: message, Field: field}
}

func NotFound(op, message string) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Message: message}
}

func Conflict(op, message string) *Error {
	return &Error{Kind: ErrConflict, Op: op, Message: message}
}

func Auth(op, message string) *Error {
	return &Error{Kind: ErrAuth, Op: op, Message: message}
}

func Forbidden(op, message string) *Error {
	return &Error{Kind: ErrForbidden, Op: op, Message: message}
}

func IO(op string, cause error) *Error {
	return &Error{Kind: ErrIO, Op: op, Message: "file operation failed", Err: cause}
}

func Inference(op string, cause error) *Error {
	return &Error{Kind: ErrInference, Op: op, Message: "inference failed", Err: cause}
}

func InferenceTimeout(op string, cause error) *Error {
	return &Error{Kind: ErrInferenceTimeout, Op: op, Message: "inference timed out", Err: cause}
}

func Persistence(op string, cause error) *Error {
	return &Error{Kind: ErrPersistence, Op: op, Message: "storage operation failed", Err: cause}
}

func Unavailable(op, message string) *Error {
	return &Error{Kind: ErrUnavailable, Op: op, Message: message}
}

func Internal(op string, cause error) *Error {
	return &Error{Kind: ErrInternal, Op: op, Message: "internal error", Err: cause}
}

// KindOf returns the kind sentinel carried by err, or ErrInternal.
func KindOf(err error) error {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != nil {
		return appErr.Kind
	}
	return ErrInternal
}

// Message returns the client-facing message carried by err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps an error to the status code returned by the API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
