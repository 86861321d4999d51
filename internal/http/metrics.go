package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/logging"
)

const meterName = "github.com/fyrsmithlabs/ultrathink/internal/http"

// unmatchedRoute labels requests no route accepted.
const unmatchedRoute = "unmatched"

// routeMetrics counts API requests per route template and status class.
// Labels come from the echo route, so request ids in
// /api/v1/requests/:request_id/events never become label values.
type routeMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// newRouteMetrics builds the instruments on meter, falling back to a no-op
// meter when one is rejected.
func newRouteMetrics(meter metric.Meter, logger *logging.Logger) *routeMetrics {
	m, err := buildRouteMetrics(meter)
	if err != nil {
		logger.Warn(context.Background(), "http route metrics disabled", zap.Error(err))
		m, _ = buildRouteMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
}

func buildRouteMetrics(meter metric.Meter) (*routeMetrics, error) {
	var m routeMetrics
	var errs [3]error
	m.requests, errs[0] = meter.Int64Counter("ultrathink.http.requests",
		metric.WithDescription("API requests by method, route and status class"),
		metric.WithUnit("{request}"))
	// a process call spans every refinement iteration
	m.latency, errs[1] = meter.Float64Histogram("ultrathink.http.request_latency",
		metric.WithDescription("API request wall time by route"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300))
	m.inFlight, errs[2] = meter.Int64UpDownCounter("ultrathink.http.in_flight",
		metric.WithDescription("API requests currently being served"),
		metric.WithUnit("{request}"))
	return &m, errors.Join(errs[:]...)
}

func (m *routeMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()
		m.inFlight.Add(ctx, 1)
		defer m.inFlight.Add(ctx, -1)

		err := next(c)

		route := routeLabel(c.Path())
		m.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", c.Request().Method),
			attribute.String("route", route),
			attribute.String("status_class", statusClass(responseStatus(c, err))),
		))
		m.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("route", route)))
		return err
	}
}

// responseStatus is the status the client will see. A returned error is
// rendered by the echo error handler after this middleware, so its code
// has not reached the response yet.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func routeLabel(path string) string {
	if path == "" {
		return unmatchedRoute
	}
	return path
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
