package domain

import "errors"

// ErrConcurrencyConflict indicates that the underlying storage rejected an
// update because the value changed since it was read.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrValueTooLarge is returned when a value exceeds what the store can hold
// under one key.
var ErrValueTooLarge = errors.New("value too large for storage")

var (
	ErrEmptyText        = errors.New("task text is empty")
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidDuePreset = errors.New("unknown due date preset")
	ErrInvalidDueDate   = errors.New("due date must be YYYY-MM-DD or RFC 3339")

	ErrInvalidDuration = errors.New("time must be mm:ss with minutes 0-99 and seconds 0-59")
	ErrTimerRunning    = errors.New("timer is running")
	ErrInvalidMode     = errors.New("unknown timer mode")
)
