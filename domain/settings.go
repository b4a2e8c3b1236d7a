package domain

import "time"

const (
	DefaultWorkDuration  = 25 * time.Minute
	DefaultBreakDuration = 5 * time.Minute
	// MaxDuration is the largest value the mm:ss display can hold.
	MaxDuration = 99*time.Minute + 59*time.Second
)

// TimerSettings represents user configurable timer options.
type TimerSettings struct {
	Work         time.Duration `json:"work"`
	Break        time.Duration `json:"break"`
	AutoContinue bool          `json:"autoContinue"`
}

// DefaultTimerSettings returns the stock 25/5 cycle.
func DefaultTimerSettings() TimerSettings {
	return TimerSettings{Work: DefaultWorkDuration, Break: DefaultBreakDuration}
}

// DefaultSeconds returns the full interval length for mode in whole seconds.
func (s TimerSettings) DefaultSeconds(m Mode) int {
	if m == Break {
		return int(s.Break / time.Second)
	}
	return int(s.Work / time.Second)
}
