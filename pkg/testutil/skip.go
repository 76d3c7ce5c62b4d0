// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// SkipIfShort skips container-backed tests in -short mode and when no
// container runtime is reachable.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("SIGNALMAX_SKIP_CONTAINERS") != "" {
		t.Skip("skipping integration test (SIGNALMAX_SKIP_CONTAINERS is set)")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

// Eventually polls cond every 10ms until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s: %s", timeout, msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
