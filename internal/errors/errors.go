package errors

import (
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Predefined error codes
const (
	CodeConfigInvalid  = "CONFIG_INVALID"
	CodeLookupError    = "LOOKUP_ERROR"
	CodeStoreIntegrity = "STORE_INTEGRITY"
	CodeAllSpecsFailed = "ALL_SPECS_FAILED"
	CodeDatabaseError  = "DATABASE_ERROR"
	CodeInternalError  = "INTERNAL_ERROR"
)

// Common error constructors. The cause-taking constructors keep the
// underlying sentinel chain reachable through errors.Is.
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InvalidConfiguration(cause error) *AppError {
	return &AppError{Code: CodeConfigInvalid, Message: "invalid run configuration", Cause: cause}
}

func LookupError(cause error) *AppError {
	return &AppError{Code: CodeLookupError, Message: "lookup failed", Cause: cause}
}

func StoreIntegrity(cause error) *AppError {
	return &AppError{Code: CodeStoreIntegrity, Message: "model store fault", Cause: cause}
}

func AllSpecsFailed(cause error) *AppError {
	return &AppError{Code: CodeAllSpecsFailed, Message: "batch produced no fits", Cause: cause}
}

func DatabaseError(cause error) *AppError {
	return &AppError{Code: CodeDatabaseError, Message: "result repository fault", Cause: cause}
}
