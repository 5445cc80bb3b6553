// Package domain defines core types, interfaces, and errors for the lake catalog.
package domain

import "fmt"

// NotFoundError indicates a resource was not found, or that the caller may
// not learn whether it exists.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates insufficient permissions on an object the
// caller can already see.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// UnauthenticatedError indicates the request carried no usable identity.
type UnauthenticatedError struct {
	Message string
}

func (e *UnauthenticatedError) Error() string { return e.Message }

// ValidationError indicates invalid input. Not retryable without correction.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a duplicate resource, a failed commit requirement,
// or a lost optimistic-concurrency race. Current is set for commit conflicts
// and holds the pointer the caller must re-read from.
type ConflictError struct {
	Message string
	Current *MetadataPointer
}

func (e *ConflictError) Error() string { return e.Message }

// AuthorizationUnavailableError indicates the policy service could not be
// reached within the retry window. The request was denied.
type AuthorizationUnavailableError struct {
	Message string
	Err     error
}

func (e *AuthorizationUnavailableError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthorizationUnavailableError) Unwrap() error { return e.Err }

// CredentialVendingError indicates a storage backend refused or failed to
// issue a scoped credential.
type CredentialVendingError struct {
	Backend StorageType
	Message string
	Err     error
}

func (e *CredentialVendingError) Error() string {
	msg := fmt.Sprintf("credential vending (%s): %s", e.Backend, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialVendingError) Unwrap() error { return e.Err }

// DownscopingValidationError indicates a backend accepted access outside the
// scope of a vended credential. The warehouse stays inactive.
type DownscopingValidationError struct {
	Backend StorageType
	Message string
}

func (e *DownscopingValidationError) Error() string {
	return fmt.Sprintf("downscoping validation failed (%s): %s", e.Backend, e.Message)
}

// StorageBackendError indicates a transient failure of the catalog database
// (busy, serialization failure, pool exhaustion, lost connection).
type StorageBackendError struct {
	Message string
	Err     error
}

func (e *StorageBackendError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StorageBackendError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrUnauthenticated creates an UnauthenticatedError with a formatted message.
func ErrUnauthenticated(format string, args ...interface{}) *UnauthenticatedError {
	return &UnauthenticatedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrCommitConflict creates a ConflictError carrying the current pointer.
func ErrCommitConflict(current MetadataPointer, format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...), Current: &current}
}

// ErrVending creates a CredentialVendingError for the given backend.
func ErrVending(backend StorageType, err error, format string, args ...interface{}) *CredentialVendingError {
	return &CredentialVendingError{Backend: backend, Message: fmt.Sprintf(format, args...), Err: err}
}
