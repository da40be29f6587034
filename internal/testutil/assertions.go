package testutil

import (
	"testing"
	"time"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForPollCount polls until the mock's ListRecentRuns has been called at
// least n times, indicating the tracker has completed that many poll cycles.
func WaitForPollCount(t *testing.T, m *MockSCM, n int64, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		return m.PollCount() >= n
	}, "tracker poll count >= target")
}

// WaitForIssues polls until at least n issues have been opened.
func WaitForIssues(t *testing.T, m *MockSCM, n int, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		return len(m.Issues()) >= n
	}, "issues opened")
}
