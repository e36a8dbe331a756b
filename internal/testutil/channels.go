// Package testutil provides shared helpers for tests that wait on channels.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// DefaultTestTimeout is the standard wait for asynchronous test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = time.Second
)

// Receive returns the next value from ch or fails the test after timeout.
// A closed channel fails the test.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			require.FailNow(t, msg+": channel closed")
		}
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg+": timed out")
	}
	var zero T
	return zero
}

// WaitForClose fails the test unless ch is closed within timeout. Values
// received before the close are discarded.
func WaitForClose[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			require.FailNow(t, msg+": channel not closed")
			return
		}
	}
}
