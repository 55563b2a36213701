package handlers

import (
	"net/http"
	"runtime"

	"example.com/backstage/services/calendar/internal/metrics"
	"example.com/backstage/services/calendar/internal/search"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler handles metrics-related HTTP requests
type MetricsHandler struct {
	metrics    *metrics.Metrics
	prometheus http.Handler
}

// NewMetricsHandler creates a new metrics handler. The Prometheus view is served from
// its own registry so that only calendar metrics are exported.
func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector("calendar", m))
	return &MetricsHandler{
		metrics:    m,
		prometheus: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
}

// HandleGetMetrics returns all metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	h.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))
	c.JSON(http.StatusOK, h.metrics.GetAllMetrics())
}

// HandleGetHealthCheck returns a simplified health status. An unhealthy search index
// only degrades the status since search keeps working on the fallback.
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	checks := h.metrics.GetHealthChecks()

	status := "ok"
	code := http.StatusOK
	for component, healthy := range checks {
		if healthy {
			continue
		}
		if component == search.HealthComponent {
			if status == "ok" {
				status = "degraded"
			}
			continue
		}
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"details": checks,
	})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/metrics/prometheus", gin.WrapH(h.prometheus))
	router.GET("/health", h.HandleGetHealthCheck)
}
