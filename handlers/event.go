package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/internal/metrics"
	"example.com/backstage/services/provenance/utils"
)

// LogEventCommand appends a custody event to a batch
type LogEventCommand struct {
	BatchID         string `json:"batchId" validate:"required,batch_id"`
	Actor           string `json:"actor" validate:"required,max=255"`
	Role            string `json:"role" validate:"required,max=64"`
	Note            string `json:"note" validate:"max=4096"`
	FirstViewImage  string `json:"firstViewImage" validate:"max=2048"`
	SecondViewImage string `json:"secondViewImage" validate:"max=2048"`
	LoggedBy        string `json:"loggedBy" validate:"required,max=255"`
}

// EventHandler handles the event ledger commands and queries
type EventHandler struct {
	store       eventstore.Store
	invalidator Invalidator
	now         func() time.Time
}

// NewEventHandler creates a new event handler
func NewEventHandler(store eventstore.Store, invalidator Invalidator) *EventHandler {
	return &EventHandler{
		store:       store,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// HandleLogEvent stamps, hashes and appends the event
func (h *EventHandler) HandleLogEvent(ctx context.Context, cmd LogEventCommand) (domain.CustodyEvent, error) {
	log.Info().
		Str("batch_id", cmd.BatchID).
		Str("actor", cmd.Actor).
		Str("role", cmd.Role).
		Msg("Handling LogEvent command")
	start := time.Now()

	if err := utils.ValidateStruct(cmd); err != nil {
		return domain.CustodyEvent{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	event := domain.CustodyEvent{
		BatchID:         cmd.BatchID,
		Actor:           cmd.Actor,
		Role:            cmd.Role,
		Note:            cmd.Note,
		FirstViewImage:  cmd.FirstViewImage,
		SecondViewImage: cmd.SecondViewImage,
		Timestamp:       domain.StampTime(h.now()),
		LoggedBy:        cmd.LoggedBy,
	}
	event.EventHash = event.ComputeHash()

	logged, err := h.store.AppendEvent(ctx, event)
	metrics.GetCollector().RecordOperation(metrics.OperationLogEvent, err == nil, time.Since(start))
	if err != nil {
		return domain.CustodyEvent{}, err
	}

	invalidate(ctx, h.invalidator, logged.BatchID)
	return logged, nil
}

// GetEvents returns the timeline of a batch in ascending id order
func (h *EventHandler) GetEvents(ctx context.Context, batchID string) ([]domain.CustodyEvent, error) {
	return h.store.GetEvents(ctx, batchID)
}

// GetEventCount returns the number of events logged against a batch
func (h *EventHandler) GetEventCount(ctx context.Context, batchID string) (int64, error) {
	return h.store.CountEvents(ctx, batchID)
}
