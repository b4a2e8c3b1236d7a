package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"prism-focus/domain"
	"prism-focus/tasks"
)

type addTaskRequest struct {
	Text string `json:"text"`
}

type duplicateResponse struct {
	Duplicate bool `json:"duplicate"`
}

type updateTaskRequest struct {
	Text      *string `json:"text,omitempty"`
	DueDate   *string `json:"dueDate,omitempty"`
	DuePreset *string `json:"duePreset,omitempty"`
}

type clearCompletedResponse struct {
	Removed int `json:"removed"`
}

func (h *handlers) listTasks(c echo.Context) error {
	q := c.QueryParam("q")
	board, err := timed(c, func(ctx context.Context) (tasks.Board, error) {
		return h.Tasks.List(ctx, q)
	})
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, board)
}

func (h *handlers) streamTasks(c echo.Context) error {
	q := c.QueryParam("q")
	return stream(c, h.Updates.tasks, func() (any, error) {
		return h.Tasks.List(c.Request().Context(), q)
	})
}

// addTask creates a task. A repeated Idempotency-Key is acknowledged without
// creating a second task.
func (h *handlers) addTask(c echo.Context) error {
	var req addTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	scope := userFrom(c)
	if key != "" && h.Deduper != nil {
		added, err := h.Deduper.Add(c.Request().Context(), scope, key)
		if err != nil {
			return h.fail(c, err, nil)
		}
		if !added {
			return c.JSON(http.StatusOK, duplicateResponse{Duplicate: true})
		}
	}

	task, err := timed(c, func(ctx context.Context) (domain.Task, error) {
		return h.Tasks.Add(ctx, req.Text)
	})
	if err != nil {
		if key != "" && h.Deduper != nil {
			if rerr := h.Deduper.Remove(c.Request().Context(), scope, key); rerr != nil {
				h.Logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, scope)
			}
		}
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) updateTask(c echo.Context) error {
	id, ok := taskID(c)
	if !ok {
		return c.String(http.StatusBadRequest, "invalid task id")
	}
	var req updateTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if req.Text == nil && req.DueDate == nil && req.DuePreset == nil {
		return c.String(http.StatusBadRequest, "nothing to update")
	}
	if req.DueDate != nil && req.DuePreset != nil {
		return c.String(http.StatusBadRequest, "dueDate and duePreset are exclusive")
	}

	var due *domain.DueDate
	if req.DueDate != nil {
		d, err := domain.ParseDueDate(*req.DueDate, h.location())
		if err != nil {
			return h.fail(c, err, nil)
		}
		due = &d
	}

	task, err := timed(c, func(ctx context.Context) (domain.Task, error) {
		var (
			t   domain.Task
			err error
		)
		if req.Text != nil {
			if t, err = h.Tasks.UpdateText(ctx, id, *req.Text); err != nil {
				return t, err
			}
		}
		switch {
		case due != nil:
			t, err = h.Tasks.SetDueDate(ctx, id, *due)
		case req.DuePreset != nil:
			t, err = h.Tasks.SetDuePreset(ctx, id, *req.DuePreset)
		}
		return t, err
	})
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) toggleTask(c echo.Context) error {
	id, ok := taskID(c)
	if !ok {
		return c.String(http.StatusBadRequest, "invalid task id")
	}
	task, err := timed(c, func(ctx context.Context) (domain.Task, error) {
		return h.Tasks.Toggle(ctx, id)
	})
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTask(c echo.Context) error {
	id, ok := taskID(c)
	if !ok {
		return c.String(http.StatusBadRequest, "invalid task id")
	}
	_, err := timed(c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.Tasks.Delete(ctx, id)
	})
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) clearCompleted(c echo.Context) error {
	n, err := timed(c, h.Tasks.ClearCompleted)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, clearCompletedResponse{Removed: n})
}
