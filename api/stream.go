package api

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-focus/domain"
)

type updateBroker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[chan struct{}]struct{})}
}

func (b *updateBroker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *updateBroker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// notify wakes every subscriber. Signals coalesce: a subscriber that has not
// consumed the previous one just re-reads the latest state.
func (b *updateBroker) notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *updateBroker) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Updates carries change signals from the task service and the timer to
// the SSE streams.
type Updates struct {
	tasks *updateBroker
	timer *updateBroker
}

func NewUpdates() *Updates {
	return &Updates{tasks: newUpdateBroker(), timer: newUpdateBroker()}
}

// TasksChanged is meant for tasks.Service.OnChange.
func (u *Updates) TasksChanged() { u.tasks.notify() }

// TimerChanged is meant for timer.WithOnChange.
func (u *Updates) TimerChanged(domain.TimerStatus) { u.timer.notify() }

// stream writes the value returned by load as an SSE event, then again every
// time the broker fires, until the client goes away.
func stream(c echo.Context, broker *updateBroker, load func() (any, error)) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	ctx := c.Request().Context()
	ch := broker.subscribe()
	defer broker.unsubscribe(ch)
	c.Response().WriteHeader(http.StatusOK)
	for {
		v, err := load()
		if err != nil {
			metricsFrom(c).SetErrorStage("stream_load")
			return err
		}
		data, err := sonic.Marshal(v)
		if err != nil {
			metricsFrom(c).SetErrorStage("stream_encode")
			return err
		}
		if _, err := c.Response().Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := c.Response().Write(data); err != nil {
			return err
		}
		if _, err := c.Response().Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
		}
	}
}
