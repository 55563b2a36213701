package handlers

import (
	"net/http"
	"time"

	"example.com/backstage/services/calendar/internal/ical"
	"example.com/backstage/services/calendar/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// CalendarHandler serves the read side: day and range views, search and the iCalendar feed
type CalendarHandler struct {
	calendar *services.CalendarService
	feedName string
}

// NewCalendarHandler creates a new calendar handler. feedName is the X-WR-CALNAME of the feed.
func NewCalendarHandler(calendar *services.CalendarService, feedName string) *CalendarHandler {
	return &CalendarHandler{calendar: calendar, feedName: feedName}
}

// HandleGetDay returns the occurrences of one date, including carry-over from the day before
func (h *CalendarHandler) HandleGetDay(c *gin.Context) {
	occ, err := h.calendar.GetDay(requestContext(c), c.Param("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, occ)
}

// HandleGetRange returns the occurrences in [start, end)
func (h *CalendarHandler) HandleGetRange(c *gin.Context) {
	occ, err := h.calendar.GetRange(requestContext(c), c.Query("start"), c.Query("end"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, occ)
}

// HandleSearch runs a text search. The degraded flag tells callers the results are an
// unranked substring match.
func (h *CalendarHandler) HandleSearch(c *gin.Context) {
	res, err := h.calendar.Search(requestContext(c), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	if res.Degraded {
		c.Header("X-Search-Degraded", "true")
	}
	c.JSON(http.StatusOK, res)
}

// HandleFeed renders a range as an iCalendar document
func (h *CalendarHandler) HandleFeed(c *gin.Context) {
	occ, err := h.calendar.GetRange(requestContext(c), c.Query("start"), c.Query("end"))
	if err != nil {
		respondError(c, err)
		return
	}

	log.Debug().Int("occurrences", len(occ)).Msg("Rendering calendar feed")
	body := ical.Render(h.feedName, occ, time.Now())
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

// RegisterRoutes registers the handler's routes
func (h *CalendarHandler) RegisterRoutes(router gin.IRouter) {
	cal := router.Group("/calendar")
	cal.GET("/day/:date", h.HandleGetDay)
	cal.GET("/range", h.HandleGetRange)
	cal.GET("/search", h.HandleSearch)
	cal.GET("/feed.ics", h.HandleFeed)
}
