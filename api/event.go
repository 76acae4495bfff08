package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/auth"
)

// EventsResponse is the custody timeline of a batch
type EventsResponse struct {
	BatchID string                `json:"batch_id"`
	Events  []domain.CustodyEvent `json:"events"`
	Count   int                   `json:"count"`
}

// logEvent appends a custody event submitted by the calling principal
func (s *Server) logEvent(c *gin.Context) {
	var cmd handlers.LogEventCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		WriteError(c, NewValidationError(err.Error()))
		return
	}

	principal, _ := auth.FromContext(c.Request.Context())
	cmd.BatchID = c.Param("id")
	cmd.LoggedBy = principal.ID

	event, err := s.services.Events.HandleLogEvent(c.Request.Context(), cmd)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

// getEvents returns the events of a batch in ascending id order
func (s *Server) getEvents(c *gin.Context) {
	batchID := c.Param("id")
	events, err := s.services.Events.GetEvents(c.Request.Context(), batchID)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, EventsResponse{BatchID: batchID, Events: events, Count: len(events)})
}

// getEventCount returns the number of events of a batch
func (s *Server) getEventCount(c *gin.Context) {
	batchID := c.Param("id")
	count, err := s.services.Events.GetEventCount(c.Request.Context(), batchID)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "count": count})
}

// searchEvents queries the event read model
func (s *Server) searchEvents(c *gin.Context) {
	text := c.Query("q")
	if text == "" {
		WriteError(c, NewValidationError("q is required"))
		return
	}

	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	if size <= 0 || size > 500 {
		size = 50
	}

	events, err := s.services.Searcher.SearchEvents(c.Request.Context(), text, size)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
