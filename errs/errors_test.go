package errs

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestTypedErrors(t *testing.T) {
	t.Run("BasicError", func(t *testing.T) {
		err := New(TypeConfig, "bad schedule")
		if err.Type != TypeConfig {
			t.Errorf("Expected error type %s, got %s", TypeConfig, err.Type)
		}
		if err.Error() != "[config] bad schedule" {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("Wrapping", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := Network("fetch account", cause)
		if err.Unwrap() != cause {
			t.Error("Unwrap() doesn't return original error")
		}
		if !Retryable(err) {
			t.Error("network errors should be retryable")
		}
	})

	t.Run("Classification", func(t *testing.T) {
		inv := Invariant("block %d already started", 3)
		wrapped := errors.Wrap(inv, "start block")
		if !IsInvariant(wrapped) {
			t.Error("wrapped invariant error not detected")
		}
		if IsInput(wrapped) {
			t.Error("invariant error classified as input error")
		}
		if Retryable(wrapped) {
			t.Error("invariant errors must not be retryable")
		}
		if !IsInput(Input("too old")) {
			t.Error("input error not detected")
		}
		if !IsConfig(Config("unknown network", nil)) {
			t.Error("config error not detected")
		}
		if !IsExecution(Execution("nonce too low", nil)) {
			t.Error("execution error not detected")
		}
	})

	t.Run("IsMatchesType", func(t *testing.T) {
		a := Invariant("a")
		b := Invariant("b")
		if !errors.Is(a, b) {
			t.Error("errors of the same type should match with errors.Is")
		}
		if errors.Is(a, Input("c")) {
			t.Error("errors of different types should not match")
		}
	})
}

func TestRecovery(t *testing.T) {
	t.Run("RetriesNetworkErrors", func(t *testing.T) {
		recovery := NewRecovery()
		recovery.MaxRetries = 2
		recovery.BaseDelay = time.Millisecond

		attempts := 0
		err := recovery.Do(func() error {
			attempts++
			if attempts < 3 {
				return Network("temporary failure", nil)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected success after retries, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("StopsOnPermanentErrors", func(t *testing.T) {
		recovery := NewRecovery()
		recovery.BaseDelay = time.Millisecond

		attempts := 0
		err := recovery.Do(func() error {
			attempts++
			return Invariant("broken")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if attempts != 1 {
			t.Errorf("expected a single attempt, got %d", attempts)
		}
	})

	t.Run("DelayIsCapped", func(t *testing.T) {
		recovery := NewRecovery()
		recovery.BaseDelay = time.Second
		recovery.MaxDelay = 3 * time.Second
		if d := recovery.RetryDelay(5); d != 3*time.Second {
			t.Errorf("expected capped delay, got %v", d)
		}
	})
}
