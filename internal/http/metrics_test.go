package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/ultrathink/internal/logging"
)

func TestRouteMetrics_Middleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	e := echo.New()
	e.Use(newRouteMetrics(mp.Meter(meterName), logging.NewNop()).middleware)
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/requests/:request_id/events", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.POST("/api/v1/process", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/requests/abc/events", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/process", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byClass := map[string]int64{}
	routes := map[string]bool{}
	var latencyCount uint64
	var inFlight int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "ultrathink.http.requests":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					class, _ := dp.Attributes.Value("status_class")
					route, _ := dp.Attributes.Value("route")
					byClass[class.AsString()] += dp.Value
					routes[route.AsString()] = true
				}
			case "ultrathink.http.request_latency":
				for _, dp := range m.Data.(metricdata.Histogram[float64]).DataPoints {
					latencyCount += dp.Count
				}
			case "ultrathink.http.in_flight":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					inFlight += dp.Value
				}
			}
		}
	}

	assert.Equal(t, map[string]int64{"2xx": 2, "4xx": 1}, byClass)
	assert.True(t, routes["/api/v1/requests/:request_id/events"])
	assert.False(t, routes["/api/v1/requests/abc/events"], "route label carries a request id")
	assert.Equal(t, uint64(3), latencyCount)
	assert.Zero(t, inFlight)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, unmatchedRoute, routeLabel(""))
	assert.Equal(t, "/api/v1/process", routeLabel("/api/v1/process"))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusOK))
	assert.Equal(t, "4xx", statusClass(http.StatusRequestEntityTooLarge))
	assert.Equal(t, "5xx", statusClass(http.StatusServiceUnavailable))
}
