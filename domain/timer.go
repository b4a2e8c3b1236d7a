package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Mode is the phase of the work/break cycle.
type Mode string

const (
	Work  Mode = "work"
	Break Mode = "break"
)

// Other returns the mode the cycle flips to when an interval expires.
func (m Mode) Other() Mode {
	if m == Break {
		return Work
	}
	return Break
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Work, Break:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// TimerState is the resting or running state of the countdown.
type TimerState string

const (
	Idle    TimerState = "idle"
	Running TimerState = "running"
	Paused  TimerState = "paused"
)

// TimerSnapshot is the persisted timer record used to resume after a restart.
// StartedAt is only meaningful while Running is true.
type TimerSnapshot struct {
	Mode             Mode
	RemainingSeconds int
	Running          bool
	StartedAt        time.Time
	TotalSeconds     int
}

// TimerStatus is what a renderer needs to draw the timer.
type TimerStatus struct {
	Mode             Mode       `json:"mode"`
	State            TimerState `json:"state"`
	Running          bool       `json:"running"`
	RemainingSeconds int        `json:"remainingSeconds"`
	Display          string     `json:"display"`
}

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{1,2})$`)

// ParseClock parses a manual "mm:ss" edit into seconds.
func ParseClock(s string) (int, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrInvalidDuration
	}
	minutes, _ := strconv.Atoi(m[1])
	seconds, _ := strconv.Atoi(m[2])
	if minutes > 99 || seconds >= 60 {
		return 0, ErrInvalidDuration
	}
	return minutes*60 + seconds, nil
}

// FormatClock renders seconds as zero padded "mm:ss".
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
