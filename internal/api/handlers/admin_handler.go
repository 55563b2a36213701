package handlers

import (
	"net/http"

	"example.com/backstage/services/calendar/internal/cache"
	"example.com/backstage/services/calendar/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AdminHandler exposes cache introspection and search index maintenance
type AdminHandler struct {
	calendar *services.CalendarService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(calendar *services.CalendarService) *AdminHandler {
	return &AdminHandler{calendar: calendar}
}

// HandleCacheStats reports size, capacity, ttl and a sample of keys for both caches
func (h *AdminHandler) HandleCacheStats(c *gin.Context) {
	stats, err := h.calendar.CacheStats(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleClearCache empties the caches named by ?which=day|range|all
func (h *AdminHandler) HandleClearCache(c *gin.Context) {
	which, err := cache.ParseWhich(c.DefaultQuery("which", string(cache.All)))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.calendar.ClearCache(requestContext(c), which); err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("which", string(which)).Msg("Cache cleared on request")
	c.JSON(http.StatusOK, gin.H{"cleared": which})
}

// HandleReconcile checks index parity and rebuilds on drift
func (h *AdminHandler) HandleReconcile(c *gin.Context) {
	report, err := h.calendar.ReconcileIndex(requestContext(c))
	if err != nil {
		status, code := StatusFor(err)
		log.Error().Err(err).Msg("Search index reconcile failed")
		c.AbortWithStatusJSON(status, gin.H{"message": err.Error(), "code": code, "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// RegisterRoutes registers the handler's routes
func (h *AdminHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/cache/stats", h.HandleCacheStats)
	router.DELETE("/cache", h.HandleClearCache)
	router.POST("/search/reconcile", h.HandleReconcile)
}
