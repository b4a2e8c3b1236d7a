package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-focus/domain"
)

const (
	maxBodySize          = 16 << 10
	idempotencyHeader    = "Idempotency-Key"
	userContextKey       = "user"
	anonymousUser        = "anonymous"
	defaultHealthTimeout = 2 * time.Second
)

// Deps are the collaborators the routes need. Auth and Deduper are optional.
type Deps struct {
	Tasks    TaskService
	Timer    Timer
	Updates  *Updates
	Auth     Authenticator
	Deduper  Deduper
	Location *time.Location
	// Health reports whether the backing store is reachable.
	Health func(ctx context.Context) error
	Logger *log.Logger
}

type handlers struct {
	Deps
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		panic("Logger is not initialized")
	}
	if d.Updates == nil {
		d.Updates = NewUpdates()
	}
	h := &handlers{Deps: d}

	e.GET("/healthz", h.healthz)

	g := e.Group("/api", instrument(d.Logger), h.authenticate)
	g.GET("/tasks", h.listTasks)
	g.POST("/tasks", h.addTask)
	g.GET("/tasks/stream", h.streamTasks)
	g.POST("/tasks/clear-completed", h.clearCompleted)
	g.PATCH("/tasks/:id", h.updateTask)
	g.POST("/tasks/:id/toggle", h.toggleTask)
	g.DELETE("/tasks/:id", h.deleteTask)

	g.GET("/timer", h.timerStatus)
	g.GET("/timer/stream", h.streamTimer)
	g.POST("/timer/start", h.timerAction(Timer.Start))
	g.POST("/timer/pause", h.timerAction(Timer.Pause))
	g.POST("/timer/reset", h.timerAction(Timer.Reset))
	g.POST("/timer/mode", h.switchMode)
	g.PUT("/timer/remaining", h.setRemaining)
}

func (h *handlers) healthz(c echo.Context) error {
	if h.Health == nil {
		return c.NoContent(http.StatusOK)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), defaultHealthTimeout)
	defer cancel()
	if err := h.Health(ctx); err != nil {
		h.Logger.WithError(err).Warn("health check failed")
		return c.String(http.StatusServiceUnavailable, "storage unavailable")
	}
	return c.NoContent(http.StatusOK)
}

// authenticate resolves the caller. Streams may pass the token as a query
// parameter because EventSource cannot set headers.
func (h *handlers) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.Auth == nil {
			c.Set(userContextKey, anonymousUser)
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" && strings.HasSuffix(c.Path(), "/stream") {
			if token := c.QueryParam("token"); token != "" {
				header = bearerPrefix + token
			}
		}
		start := time.Now()
		userID, err := h.Auth.UserIDFromAuthHeader(header)
		metricsFrom(c).ObserveAuth(time.Since(start))
		if err != nil {
			metricsFrom(c).SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, err.Error())
		}
		c.Set(userContextKey, userID)
		return next(c)
	}
}

// location is where bare due dates are read.
func (h *handlers) location() *time.Location {
	if h.Location != nil {
		return h.Location
	}
	return time.Local
}

func userFrom(c echo.Context) string {
	if u, ok := c.Get(userContextKey).(string); ok && u != "" {
		return u
	}
	return anonymousUser
}

type errorResponse struct {
	Error  string              `json:"error"`
	Status *domain.TimerStatus `json:"status,omitempty"`
}

// fail maps service errors onto HTTP statuses. Anything that is not a
// validation error is treated as a storage failure the client should retry.
func (h *handlers) fail(c echo.Context, err error, status *domain.TimerStatus) error {
	code := http.StatusServiceUnavailable
	stage := "storage"
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		code, stage = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrValueTooLarge):
		code, stage = http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, domain.ErrEmptyText),
		errors.Is(err, domain.ErrInvalidDuePreset),
		errors.Is(err, domain.ErrInvalidDueDate),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrTimerRunning):
		code, stage = http.StatusUnprocessableEntity, "validation"
	default:
		h.Logger.WithError(err).WithField("route", c.Path()).Error("request failed")
	}
	metricsFrom(c).SetErrorStage(stage)
	msg := err.Error()
	if code == http.StatusServiceUnavailable {
		msg = "storage unavailable, retry"
	}
	return c.JSON(code, errorResponse{Error: msg, Status: status})
}

// decodeBody strictly decodes a JSON request body into v. The returned
// *echo.HTTPError ends the request before any state is touched.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

func taskID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// timed runs fn and charges its duration to the request's store timing.
func timed[T any](c echo.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(c.Request().Context())
	metricsFrom(c).ObserveStore(time.Since(start))
	return v, err
}
