package timer

import (
	"time"

	"prism-focus/domain"
)

// Initial is the state a Machine resumes from.
type Initial struct {
	Mode             domain.Mode
	State            domain.TimerState
	RemainingSeconds int
	StartedAt        time.Time
	TotalSeconds     int
	// ExpiredAway is set when the interval ran out while nothing was running.
	ExpiredAway bool
}

// Reconcile works out where the timer stands now from the last snapshot.
//
// A running snapshot is charged the whole seconds elapsed since it was
// written. If time is left the timer keeps running, re-anchored at now so the
// same elapsed time is never subtracted twice. If it ran out, the timer rests
// at the full length of the snapshot's mode; the mode is not flipped and no
// expiration is reported for an interval nobody observed.
func Reconcile(snap *domain.TimerSnapshot, now time.Time, settings domain.TimerSettings) Initial {
	if snap == nil {
		def := settings.DefaultSeconds(domain.Work)
		return Initial{Mode: domain.Work, State: domain.Idle, RemainingSeconds: def, TotalSeconds: def}
	}

	if !snap.Running {
		state := domain.Idle
		if snap.RemainingSeconds != settings.DefaultSeconds(snap.Mode) {
			state = domain.Paused
		}
		return Initial{
			Mode:             snap.Mode,
			State:            state,
			RemainingSeconds: snap.RemainingSeconds,
			TotalSeconds:     snap.TotalSeconds,
		}
	}

	elapsed := int(now.Sub(snap.StartedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	adjusted := snap.RemainingSeconds - elapsed
	if adjusted > 0 {
		return Initial{
			Mode:             snap.Mode,
			State:            domain.Running,
			RemainingSeconds: adjusted,
			StartedAt:        now,
			TotalSeconds:     snap.TotalSeconds,
		}
	}

	def := settings.DefaultSeconds(snap.Mode)
	return Initial{
		Mode:             snap.Mode,
		State:            domain.Idle,
		RemainingSeconds: def,
		TotalSeconds:     def,
		ExpiredAway:      true,
	}
}
