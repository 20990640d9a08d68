// Package testutil holds channel helpers and timeouts shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	DefaultTestTimeout = 5 * time.Second
	ShortTestTimeout   = time.Second

	// QuietPeriod is how long ExpectNone listens.
	QuietPeriod = 100 * time.Millisecond
)

// WaitForChannel fails the test with msg unless ch fires within timeout.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// Receive returns the next value from ch or fails after timeout.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for value")
		var zero T
		return zero
	}
}

// ExpectNone fails if ch yields a value within QuietPeriod.
func ExpectNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		require.Failf(t, "unexpected value", "%v", v)
	case <-time.After(QuietPeriod):
	}
}
