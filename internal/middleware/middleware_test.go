package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRequestLogger().Handler())

	promMw := NewPrometheusMiddleware("test", registry)
	r.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(r, registry)

	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"trace": c.GetString(TraceIDKey)})
	})
	r.GET("/error", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "test error"})
	})
	return r, registry
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPrometheusMiddleware_BasicMetrics(t *testing.T) {
	r, registry := newRouter(t)

	assert.Equal(t, http.StatusOK, serve(r, "/test").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(r, "/error").Code)

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	var durationFound, errorsFound, requestsFound bool
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "test_http_request_duration_seconds":
			durationFound = true
			assert.Equal(t, "Длительность HTTP-запросов.", mf.GetHelp())
			// Два запроса с разными путями
			assert.Len(t, mf.GetMetric(), 2)
		case "test_http_request_errors_total":
			errorsFound = true
			// Одна ошибка (500 статус)
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		case "test_http_requests_total":
			requestsFound = true
		}
	}

	assert.True(t, durationFound, "Duration metric not found")
	assert.True(t, errorsFound, "Errors metric not found")
	assert.True(t, requestsFound, "Requests metric not found")
}

func TestPrometheusMiddleware_InflightReturnsToZero(t *testing.T) {
	r, registry := newRouter(t)
	serve(r, "/test")

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() == "test_http_requests_inflight" {
			assert.Equal(t, float64(0), mf.GetMetric()[0].GetGauge().GetValue())
			return
		}
	}
	t.Fatal("Inflight metric not found")
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newRouter(t)
	serve(r, "/test")

	w := serve(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_requests_total"))
}

func TestRequestLoggerSetsTraceID(t *testing.T) {
	r, _ := newRouter(t)

	w := serve(r, "/test")
	traceID := w.Header().Get("X-Trace-Id")
	require.NotEmpty(t, traceID)
	assert.Contains(t, w.Body.String(), traceID)

	// каждый запрос получает свой trace-ID
	assert.NotEqual(t, traceID, serve(r, "/test").Header().Get("X-Trace-Id"))
}
