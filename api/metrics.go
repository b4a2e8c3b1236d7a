package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName        = "prism-focus/api"
	metricsContextKey = "request.metrics"
)

// requestMetrics collects per-request timings and emits them as one log line
// and one span.
type requestMetrics struct {
	logger        *log.Logger
	route         string
	method        string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	errorStage    string
	span          trace.Span
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger: logger,
		route:  route,
		method: method,
		start:  time.Now(),
		span:   span,
	}, spanCtx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.storeDuration += d
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.Float64("prism.request.total_ms", durationToMillis(total)),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("prism.request.error_stage", m.errorStage))
		}
		if err != nil {
			m.span.RecordError(err)
		}
		if err != nil || status >= 500 {
			m.span.SetStatus(codes.Error, m.errorStage)
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    m.route,
		"method":   m.method,
		"status":   status,
		"total_ms": durationToMillis(total),
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("http.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// instrument wraps every request in a requestMetrics. Streams are logged when
// they end.
func instrument(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, route)
			c.SetRequest(req.WithContext(ctx))
			c.Set(metricsContextKey, m)

			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.Log(status, err)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}
