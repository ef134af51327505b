// Package apperror defines the error taxonomy shared by every layer.
//
// Sentinels are matched with errors.Is; AppError carries the human-readable
// message that ends up in a notification or an HTTP error body.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("Validation Error")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrDuplicate        = errors.New("duplicate action")
	ErrPermissionDenied = errors.New("permission denied")
	ErrBackendWrite     = errors.New("backend write failure")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated blocks an action that needs a signed-in identity.
// No mutation is attempted when this is returned.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Duplicate reports an action the caller already performed, such as liking
// the same reign twice.
func Duplicate(message string) *AppError {
	return &AppError{
		Err:     ErrDuplicate,
		Message: message,
	}
}

// PermissionDenied covers refused device or login access.
func PermissionDenied(message string) *AppError {
	return &AppError{
		Err:     ErrPermissionDenied,
		Message: message,
	}
}

// BackendWrite wraps a failed write to the document store. The cause stays
// reachable through errors.Is/As via a joined error.
func BackendWrite(message string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrBackendWrite, cause),
		Message: message,
	}
}
