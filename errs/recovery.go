package errs

import (
	"errors"
	"time"
)

// Recovery provides retry logic for recoverable errors
type Recovery struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RetryableTypes map[ErrorType]bool
}

// NewRecovery creates a new error recovery handler
func NewRecovery() *Recovery {
	return &Recovery{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		RetryableTypes: map[ErrorType]bool{
			TypeNetwork: true,
			TypeTimeout: true,
		},
	}
}

// ShouldRetry determines if an error should be retried
func (r *Recovery) ShouldRetry(err error, attempt int) bool {
	if attempt >= r.MaxRetries {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		if retryable, exists := r.RetryableTypes[e.Type]; exists && retryable {
			return true
		}
		if recoverable, exists := e.Context["recoverable"].(bool); exists && recoverable {
			return true
		}
	}
	return false
}

// RetryDelay calculates the delay before the next retry
func (r *Recovery) RetryDelay(attempt int) time.Duration {
	delay := r.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// Do executes operation, retrying while the error is recoverable.
func (r *Recovery) Do(operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.RetryDelay(attempt - 1))
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		if !r.ShouldRetry(err, attempt) {
			break
		}
	}
	return lastErr
}
