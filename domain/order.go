package domain

import (
	"sort"
	"time"
)

// Order splits tasks into active and completed lists in display order.
//
// Active tasks sort by due-date class (overdue, due today, upcoming, no date).
// Overdue and upcoming tasks are ordered by due date, oldest first; tasks due
// today and tasks without a due date show the most recently created first.
// Completed tasks ignore due dates and show the most recently created first.
// The sort is stable and the input slice is left untouched.
func Order(tasks []Task, now time.Time) (active, completed []Task) {
	active = make([]Task, 0, len(tasks))
	completed = make([]Task, 0)
	for _, t := range tasks {
		if t.Completed {
			completed = append(completed, t)
		} else {
			active = append(active, t)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		ca, cb := a.Classify(now), b.Classify(now)
		if ca != cb {
			return ca < cb
		}
		switch ca {
		case Overdue, Upcoming:
			da, _ := a.dueDay(now)
			db, _ := b.dueDay(now)
			return da.Before(db)
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})

	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})
	return active, completed
}
