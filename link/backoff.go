// File: link/backoff.go
// Author: momentics <momentics@gmail.com>
//
// Backoff is exposed as a pure function so it can be unit-tested in
// isolation.

package link

const (
	// minBackoffTicks is 10 ticks of the 10ms periodic task (100ms).
	minBackoffTicks = 10
	// maxBackoffTicks is 100 ticks (1000ms).
	maxBackoffTicks = 100
)

// NextBackoff doubles prev, starting at minBackoffTicks on the first
// failure and capping at maxBackoffTicks.
func NextBackoff(prev int) int {
	if prev <= 0 {
		return minBackoffTicks
	}
	next := prev * 2
	if next > maxBackoffTicks {
		return maxBackoffTicks
	}
	return next
}
