package errors

import (
	"fmt"
	"net/http"
)

// StandardError represents a standardized error response.
// Success is always false so clients can branch on it like on every other body.
type StandardError struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`              // Error code/type (e.g., "ValidationError", "ProductNotFound")
	Message string `json:"error"`             // Human-readable error message
	Details string `json:"details,omitempty"` // Additional details (field name, ids, etc.)
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return e.Message
}

// HTTPStatus returns the appropriate HTTP status code for the error
func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case "InvalidRequest", "ValidationError", "IdentificationRequired":
		return http.StatusBadRequest
	case "Unauthorized":
		return http.StatusUnauthorized
	case "Forbidden":
		return http.StatusForbidden
	case "ProductNotFound", "ResourceNotFound":
		return http.StatusNotFound
	case "InsufficientStock", "Conflict":
		return http.StatusConflict
	case "ServiceUnavailable":
		return http.StatusServiceUnavailable
	case "StoreError", "InternalError":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewStandardError creates a new StandardError
func NewStandardError(errorCode, message, details string) *StandardError {
	return &StandardError{
		Code:    errorCode,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func NewInvalidRequest(message, details string) *StandardError {
	return NewStandardError("InvalidRequest", message, details)
}

func NewValidationError(message, field string) *StandardError {
	return NewStandardError("ValidationError", message, fmt.Sprintf("Field: %s", field))
}

func NewIdentificationRequired(message string) *StandardError {
	return NewStandardError("IdentificationRequired", message, "Sign in or send a guest session id")
}

func NewUnauthorized(message, details string) *StandardError {
	return NewStandardError("Unauthorized", message, details)
}

func NewProductNotFound(message string) *StandardError {
	return NewStandardError("ProductNotFound", message, "")
}

func NewInsufficientStock(message string) *StandardError {
	return NewStandardError("InsufficientStock", message, "")
}

func NewStoreError(operation string, err error) *StandardError {
	return NewStandardError("StoreError", fmt.Sprintf("store operation failed: %s", operation), err.Error())
}

func NewInternalError(message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewStandardError("InternalError", message, details)
}
