package errs

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Programming errors: the caller or the wiring broke an invariant.
	TypeInvariant ErrorType = "invariant"

	// Caller supplied something the adapter does not support.
	TypeInput  ErrorType = "input"
	TypeConfig ErrorType = "config"

	// Engine rejected a transaction before executing it.
	TypeExecution ErrorType = "execution"

	// Remote state could not be fetched.
	TypeNetwork ErrorType = "network"
	TypeTimeout ErrorType = "timeout"
	TypeStorage ErrorType = "storage"
)

// Error represents a typed error with context and recovery information
type Error struct {
	Type      ErrorType
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same type.
func (e *Error) Is(target error) bool {
	var targetErr *Error
	if errors.As(target, &targetErr) {
		return e.Type == targetErr.Type
	}
	return false
}

// AddContext adds contextual information to the error
func (e *Error) AddContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a typed Error
func Wrap(errType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// Invariant creates an error for a broken adapter invariant.
func Invariant(format string, args ...interface{}) *Error {
	return New(TypeInvariant, fmt.Sprintf(format, args...)).
		AddContext("recoverable", false)
}

// Input creates an error for a request the adapter refuses to serve.
func Input(format string, args ...interface{}) *Error {
	return New(TypeInput, fmt.Sprintf(format, args...)).
		AddContext("recoverable", false)
}

// Config creates a configuration error
func Config(message string, cause error) *Error {
	return Wrap(TypeConfig, message, cause).
		AddContext("recoverable", false).
		AddContext("suggested_fix", "Check the hardfork schedule and chain configuration")
}

// Execution wraps an engine rejection of a transaction.
func Execution(message string, cause error) *Error {
	return Wrap(TypeExecution, message, cause).
		AddContext("recoverable", false)
}

// Network wraps a failed remote state request.
func Network(message string, cause error) *Error {
	return Wrap(TypeNetwork, message, cause).
		AddContext("recoverable", true).
		AddContext("suggested_fix", "Check the fork RPC endpoint and retry")
}

func isType(err error, errType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errType
	}
	return false
}

// IsInvariant reports whether err is an invariant violation.
func IsInvariant(err error) bool { return isType(err, TypeInvariant) }

// IsInput reports whether err is a rejected request.
func IsInput(err error) bool { return isType(err, TypeInput) }

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return isType(err, TypeConfig) }

// IsExecution reports whether err is an engine rejection.
func IsExecution(err error) bool { return isType(err, TypeExecution) }

// Retryable reports whether err is marked recoverable.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	recoverable, ok := e.Context["recoverable"].(bool)
	return ok && recoverable
}
