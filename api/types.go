package api

import (
	"context"

	"prism-focus/domain"
	"prism-focus/tasks"
)

// TaskService is the task collection as the handlers see it.
type TaskService interface {
	List(ctx context.Context, q string) (tasks.Board, error)
	Add(ctx context.Context, text string) (domain.Task, error)
	Toggle(ctx context.Context, id int64) (domain.Task, error)
	UpdateText(ctx context.Context, id int64, text string) (domain.Task, error)
	SetDueDate(ctx context.Context, id int64, due domain.DueDate) (domain.Task, error)
	SetDuePreset(ctx context.Context, id int64, preset string) (domain.Task, error)
	Delete(ctx context.Context, id int64) error
	ClearCompleted(ctx context.Context) (int, error)
}

// Timer is the countdown as the handlers see it. Every method returns the
// status after the call, including when it fails.
type Timer interface {
	Status() domain.TimerStatus
	Start(ctx context.Context) (domain.TimerStatus, error)
	Pause(ctx context.Context) (domain.TimerStatus, error)
	Reset(ctx context.Context) (domain.TimerStatus, error)
	SwitchMode(ctx context.Context, mode domain.Mode) (domain.TimerStatus, error)
	SetRemaining(ctx context.Context, value string) (domain.TimerStatus, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, scope, key string) error
}
