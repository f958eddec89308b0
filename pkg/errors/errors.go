package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a conflict with existing data
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeForbidden indicates the requester may not act on the resource
	ErrorTypeForbidden ErrorType = "FORBIDDEN"

	// ErrorTypePolicy indicates a business policy rejected the operation
	ErrorTypePolicy ErrorType = "POLICY"

	// ErrorTypeUnauthorized indicates unauthorized access
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// Code is the stable public identifier of an error returned to callers.
type Code string

const (
	CodeInvalidInterval           Code = "InvalidInterval"
	CodeOutsideBusinessHours      Code = "OutsideBusinessHours"
	CodeOverlapConflict           Code = "OverlapConflict"
	CodeSlotUnavailable           Code = "SlotUnavailable"
	CodeSlotNotClaimed            Code = "SlotNotClaimed"
	CodeDuplicateBooking          Code = "DuplicateBooking"
	CodeInvalidPaymentMethod      Code = "InvalidPaymentMethod"
	CodeNotFound                  Code = "NotFound"
	CodeForbidden                 Code = "Forbidden"
	CodeInvalidState              Code = "InvalidState"
	CodeCancellationWindowExpired Code = "CancellationWindowExpired"
	CodeInvalidEvent              Code = "InvalidEvent"
	CodeValidation                Code = "ValidationFailed"
	CodeInternal                  Code = "Internal"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Code    Code
	Message string
	Err     error

	// Compensated is set on errors raised after a partially applied operation.
	// nil means no compensation was needed.
	Compensated *bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with an explicit type and code.
func New(errType ErrorType, code Code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Code:    CodeValidation,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(code Code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeForbidden,
		Code:    CodeForbidden,
		Message: message,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the public code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given public code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// WithCompensated returns a copy of err annotated with the compensation outcome.
// Non-AppErrors are wrapped as internal errors first.
func WithCompensated(err error, compensated bool) *AppError {
	appErr, ok := As(err)
	if !ok {
		appErr = NewInternalError("operation failed", err)
	}
	annotated := *appErr
	annotated.Compensated = &compensated
	return &annotated
}
