package types

import "time"

// clock is the time source for every timestamp expflow records. It can be
// replaced in tests through SetClock.
var clock = time.Now

// Now returns the current time from the package clock, in UTC. UTC keeps
// timestamps identical after a JSON round trip.
func Now() time.Time {
	return clock().UTC()
}

// SetClock replaces the package clock and returns a function that restores
// the previous one. It is meant for tests that need deterministic durations.
func SetClock(now func() time.Time) (restore func()) {
	prev := clock
	clock = now
	return func() { clock = prev }
}
