package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Task represents a single item on the board.
type Task struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
	DueDate   DueDate   `json:"dueDate"`
}

// DueDate is an optional calendar day. The zero value means "no due date".
// Decoding never fails: null, empty and unparsable values all decode as absent.
type DueDate struct {
	time.Time
}

// NewDueDate returns the due date for the calendar day containing t.
func NewDueDate(t time.Time) DueDate {
	return DueDate{Time: Midnight(t)}
}

// Set reports whether a due date is present.
func (d DueDate) Set() bool { return !d.Time.IsZero() }

func (d *DueDate) UnmarshalJSON(b []byte) error {
	d.Time = time.Time{}
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		d.Time = t
		return nil
	}
	// bare days are local calendar days
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		d.Time = t
	}
	return nil
}

// ParseDueDate is the strict counterpart of UnmarshalJSON used for user
// input: bare days are read in loc and anything unparsable is an error.
func ParseDueDate(s string, loc *time.Location) (DueDate, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return DueDate{Time: t}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewDueDate(t.In(loc)), nil
	}
	return DueDate{}, ErrInvalidDueDate
}

func (d DueDate) MarshalJSON() ([]byte, error) {
	if !d.Set() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(time.RFC3339Nano))
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DueClass is the urgency bucket of an active task.
type DueClass int

const (
	Overdue DueClass = iota
	DueToday
	Upcoming
	NoDate
)

func (c DueClass) String() string {
	switch c {
	case Overdue:
		return "overdue"
	case DueToday:
		return "due-today"
	case Upcoming:
		return "upcoming"
	default:
		return "no-date"
	}
}

// dueDay returns the due date truncated to midnight in now's location.
func (t Task) dueDay(now time.Time) (time.Time, bool) {
	if !t.DueDate.Set() {
		return time.Time{}, false
	}
	return Midnight(t.DueDate.Time.In(now.Location())), true
}

// Classify places the task in its due-date class relative to now.
func (t Task) Classify(now time.Time) DueClass {
	due, ok := t.dueDay(now)
	if !ok {
		return NoDate
	}
	today := Midnight(now)
	switch {
	case due.Before(today):
		return Overdue
	case due.Equal(today):
		return DueToday
	default:
		return Upcoming
	}
}

// DueLabel renders the due date the way the board shows it.
func (t Task) DueLabel(now time.Time) string {
	due, ok := t.dueDay(now)
	if !ok {
		return ""
	}
	today := Midnight(now)
	switch {
	case due.Equal(today):
		return "Today"
	case due.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow"
	default:
		return due.Format("Jan 2")
	}
}

// MatchesQuery reports whether the task text contains q, ignoring case.
// An empty query matches everything.
func (t Task) MatchesQuery(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Text), q)
}
