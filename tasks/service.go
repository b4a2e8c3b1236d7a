// Package tasks owns the persisted task collection.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-focus/clock"
	"prism-focus/domain"
	"prism-focus/storage"
)

// Key is the storage key holding the JSON encoded task collection.
const Key = "tasks"

// Due date presets offered by the board.
const (
	PresetToday    = "today"
	PresetTomorrow = "tomorrow"
	PresetWeek     = "week"
	PresetClear    = "clear"
)

// Item is a task decorated for display.
type Item struct {
	domain.Task
	DueLabel string `json:"dueLabel,omitempty"`
	DueClass string `json:"dueClass"`
}

// Board is the ordered, optionally filtered view of the collection.
type Board struct {
	Active         []Item `json:"active"`
	Completed      []Item `json:"completed"`
	ActiveCount    int    `json:"activeCount"`
	CompletedCount int    `json:"completedCount"`
}

// Service mutates the collection through read-modify-write cycles on a
// single storage key.
type Service struct {
	kv     storage.KV
	clock  clock.Clock
	mu     sync.Mutex
	lastID int64

	// OnChange, when set, is called after every successful mutation.
	OnChange func()
}

func NewService(kv storage.KV, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{kv: kv, clock: clk}
}

// nextID returns a millisecond timestamp that is strictly greater than any
// id handed out before by this service.
func (s *Service) nextID() int64 {
	for {
		now := s.clock.Now().UnixMilli()
		last := atomic.LoadInt64(&s.lastID)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&s.lastID, last, now) {
			return now
		}
	}
}

func decode(raw []byte) ([]domain.Task, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tasks []domain.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}

// mutate applies fn to the stored collection. The in-process mutex keeps
// local writers ordered; the storage CAS covers other processes.
func (s *Service) mutate(ctx context.Context, fn func([]domain.Task) ([]domain.Task, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.kv.Update(ctx, Key, func(cur []byte) ([]byte, error) {
		tasks, err := decode(cur)
		if err != nil {
			return nil, err
		}
		next, err := fn(tasks)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []domain.Task{}
		}
		return json.Marshal(next)
	})
	if err != nil {
		return err
	}
	if s.OnChange != nil {
		s.OnChange()
	}
	return nil
}

// All returns the stored collection in storage order.
func (s *Service) All(ctx context.Context) ([]domain.Task, error) {
	rec, err := s.kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return decode(rec[Key])
}

// List returns the board, filtered by q when it is not blank.
func (s *Service) List(ctx context.Context, q string) (Board, error) {
	tasks, err := s.All(ctx)
	if err != nil {
		return Board{}, err
	}
	now := s.clock.Now()
	filtered := tasks[:0:0]
	for _, t := range tasks {
		if t.MatchesQuery(q) {
			filtered = append(filtered, t)
		}
	}
	active, completed := domain.Order(filtered, now)
	return Board{
		Active:         decorate(active, now),
		Completed:      decorate(completed, now),
		ActiveCount:    len(active),
		CompletedCount: len(completed),
	}, nil
}

func decorate(tasks []domain.Task, now time.Time) []Item {
	items := make([]Item, len(tasks))
	for i, t := range tasks {
		items[i] = Item{Task: t, DueLabel: t.DueLabel(now)}
		if t.Completed {
			items[i].DueClass = domain.NoDate.String()
		} else {
			items[i].DueClass = t.Classify(now).String()
		}
	}
	return items
}

// Add appends a new active task due today.
func (s *Service) Add(ctx context.Context, text string) (domain.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, domain.ErrEmptyText
	}
	now := s.clock.Now()
	task := domain.Task{
		ID:        s.nextID(),
		Text:      text,
		CreatedAt: now,
		DueDate:   domain.NewDueDate(now),
	}
	err := s.mutate(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		return append(tasks, task), nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	log.WithFields(log.Fields{"task": task.ID}).Debug("task added")
	return task, nil
}

// update runs fn against the task with the given id.
func (s *Service) update(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	var out domain.Task
	err := s.mutate(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		for i := range tasks {
			if tasks[i].ID != id {
				continue
			}
			if err := fn(&tasks[i]); err != nil {
				return nil, err
			}
			out = tasks[i]
			return tasks, nil
		}
		return nil, fmt.Errorf("task %d: %w", id, domain.ErrTaskNotFound)
	})
	return out, err
}

// Toggle flips the completion flag.
func (s *Service) Toggle(ctx context.Context, id int64) (domain.Task, error) {
	return s.update(ctx, id, func(t *domain.Task) error {
		t.Completed = !t.Completed
		return nil
	})
}

// UpdateText replaces the task text. Blank text leaves the task unchanged.
func (s *Service) UpdateText(ctx context.Context, id int64, text string) (domain.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, domain.ErrEmptyText
	}
	return s.update(ctx, id, func(t *domain.Task) error {
		t.Text = text
		return nil
	})
}

// SetDueDate sets or clears (zero due) the due date.
func (s *Service) SetDueDate(ctx context.Context, id int64, due domain.DueDate) (domain.Task, error) {
	if due.Set() {
		due = domain.NewDueDate(due.Time.In(s.clock.Now().Location()))
	}
	return s.update(ctx, id, func(t *domain.Task) error {
		t.DueDate = due
		return nil
	})
}

// PresetDueDate resolves a preset name against the current day.
func (s *Service) PresetDueDate(preset string) (domain.DueDate, error) {
	now := s.clock.Now()
	switch strings.ToLower(strings.TrimSpace(preset)) {
	case PresetToday:
		return domain.NewDueDate(now), nil
	case PresetTomorrow:
		return domain.NewDueDate(now.AddDate(0, 0, 1)), nil
	case PresetWeek:
		return domain.NewDueDate(now.AddDate(0, 0, 7)), nil
	case PresetClear:
		return domain.DueDate{}, nil
	}
	return domain.DueDate{}, fmt.Errorf("%w: %q", domain.ErrInvalidDuePreset, preset)
}

// SetDuePreset applies one of the named presets.
func (s *Service) SetDuePreset(ctx context.Context, id int64, preset string) (domain.Task, error) {
	due, err := s.PresetDueDate(preset)
	if err != nil {
		return domain.Task{}, err
	}
	return s.SetDueDate(ctx, id, due)
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.mutate(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		for i := range tasks {
			if tasks[i].ID == id {
				return append(tasks[:i:i], tasks[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("task %d: %w", id, domain.ErrTaskNotFound)
	})
}

// ClearCompleted removes every completed task and reports how many went.
func (s *Service) ClearCompleted(ctx context.Context) (int, error) {
	var removed int
	err := s.mutate(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		removed = 0
		kept := make([]domain.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.Completed {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
