package handlers

import (
	"net/http"
	"strconv"

	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/models"
	"example.com/backstage/services/calendar/internal/services"

	"github.com/gin-gonic/gin"
)

// EventHandler handles the store-facing CRUD endpoints
type EventHandler struct {
	calendar *services.CalendarService
}

// NewEventHandler creates a new event handler
func NewEventHandler(calendar *services.CalendarService) *EventHandler {
	return &EventHandler{calendar: calendar}
}

// EventResponse is a stored event with its key
type EventResponse struct {
	Key models.EventKey `json:"key"`
	models.OccurrenceDTO
}

// NotifyRequest reports a write made outside this service
type NotifyRequest struct {
	Op string `json:"op" binding:"required"`
}

func eventResponse(ev *models.Event) EventResponse {
	return EventResponse{Key: ev.Key(), OccurrenceDTO: models.EventDTO(ev)}
}

func keyParam(c *gin.Context) (models.EventKey, error) {
	date, err := models.ParseDate(c.Param("date"))
	if err != nil {
		return models.EventKey{}, err
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return models.EventKey{}, errs.Validationf("invalid event id %q", c.Param("id"))
	}
	return models.EventKey{ClusterDate: date, ID: id}, nil
}

// HandleCreate stores one event
func (h *EventHandler) HandleCreate(c *gin.Context) {
	var in models.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	ev, err := h.calendar.CreateEvent(requestContext(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, eventResponse(ev))
}

// HandleCreateBatch stores several events in one transaction
func (h *EventHandler) HandleCreateBatch(c *gin.Context) {
	var in []models.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	events, err := h.calendar.CreateEvents(requestContext(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse(ev))
	}
	c.JSON(http.StatusCreated, out)
}

// HandleGet returns one stored event
func (h *EventHandler) HandleGet(c *gin.Context) {
	key, err := keyParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ev, err := h.calendar.GetEvent(requestContext(c), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventResponse(ev))
}

// HandleUpdate replaces an event. A new start date moves it to a new key, which the
// response carries.
func (h *EventHandler) HandleUpdate(c *gin.Context) {
	key, err := keyParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var in models.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	ev, err := h.calendar.UpdateEvent(requestContext(c), key, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventResponse(ev))
}

// HandleDelete removes an event
func (h *EventHandler) HandleDelete(c *gin.Context) {
	key, err := keyParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.calendar.DeleteEvent(requestContext(c), key); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleNotify runs the post-commit work for a write another writer made
func (h *EventHandler) HandleNotify(c *gin.Context) {
	key, err := keyParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	op, err := models.ParseMutationOp(req.Op)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.calendar.NotifyMutated(requestContext(c), key, op); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// RegisterRoutes registers the handler's routes
func (h *EventHandler) RegisterRoutes(router gin.IRouter) {
	events := router.Group("/events")
	events.POST("", h.HandleCreate)
	events.POST("/batch", h.HandleCreateBatch)
	events.GET("/:date/:id", h.HandleGet)
	events.PUT("/:date/:id", h.HandleUpdate)
	events.DELETE("/:date/:id", h.HandleDelete)
	events.POST("/:date/:id/notify", h.HandleNotify)
}
