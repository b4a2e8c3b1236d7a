// Package clock abstracts wall-clock reads and scheduled callbacks so the
// timer can be driven deterministically in tests.
package clock

import "time"

// Clock supplies the current instant and schedules callbacks.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. Stopping an already fired or
	// stopped timer is a no-op and returns false.
	Stop() bool
}

// Real implements Clock using the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
