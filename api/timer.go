package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"prism-focus/domain"
)

type switchModeRequest struct {
	Mode string `json:"mode"`
}

type setRemainingRequest struct {
	Value string `json:"value"`
}

func (h *handlers) timerStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Timer.Status())
}

func (h *handlers) streamTimer(c echo.Context) error {
	return stream(c, h.Updates.timer, func() (any, error) {
		return h.Timer.Status(), nil
	})
}

// timerAction adapts a body-less transition such as Timer.Start.
func (h *handlers) timerAction(action func(Timer, context.Context) (domain.TimerStatus, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h.respondTimer(c, func(ctx context.Context) (domain.TimerStatus, error) {
			return action(h.Timer, ctx)
		})
	}
}

func (h *handlers) switchMode(c echo.Context) error {
	var req switchModeRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		st := h.Timer.Status()
		return h.fail(c, err, &st)
	}
	return h.respondTimer(c, func(ctx context.Context) (domain.TimerStatus, error) {
		return h.Timer.SwitchMode(ctx, mode)
	})
}

// setRemaining applies a manual edit. A rejected edit answers 422 with the
// current status so the client can restore the value it displayed.
func (h *handlers) setRemaining(c echo.Context) error {
	var req setRemainingRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	return h.respondTimer(c, func(ctx context.Context) (domain.TimerStatus, error) {
		return h.Timer.SetRemaining(ctx, req.Value)
	})
}

func (h *handlers) respondTimer(c echo.Context, fn func(ctx context.Context) (domain.TimerStatus, error)) error {
	st, err := timed(c, fn)
	if err != nil {
		return h.fail(c, err, &st)
	}
	return c.JSON(http.StatusOK, st)
}
