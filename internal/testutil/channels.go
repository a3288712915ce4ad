// Package testutil provides shared test helpers for daqbench packages.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeouts.
const (
	// DefaultTestTimeout is the standard timeout for async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for deliveries expected almost immediately.
	ShortTestTimeout = 1 * time.Second

	// LongTestTimeout is for streams that run through a device.
	LongTestTimeout = 10 * time.Second
)

// WaitForChannel waits for ch to close or deliver, or fails after timeout.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// Receive returns the next value on ch, or fails after timeout.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
	var zero T
	return zero
}

// WaitFor discards values until match accepts one, or fails after timeout.
func WaitFor[T any](t *testing.T, ch <-chan T, match func(T) bool, timeout time.Duration, msg string) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case v := <-ch:
			if match(v) {
				return v
			}
		case <-deadline:
			require.Fail(t, msg)
			var zero T
			return zero
		}
	}
}
