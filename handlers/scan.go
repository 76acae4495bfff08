package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/payload"
	"example.com/backstage/services/provenance/utils"
)

// ScanCommand turns a scanned QR text into an event draft. Fields set on
// the command take precedence over the ones decoded from the payload.
type ScanCommand struct {
	Payload         string `json:"payload" validate:"required,max=4096"`
	Actor           string `json:"actor"`
	Role            string `json:"role"`
	Note            string `json:"note"`
	FirstViewImage  string `json:"firstViewImage"`
	SecondViewImage string `json:"secondViewImage"`
	LoggedBy        string `json:"loggedBy"`
	Log             bool   `json:"log"`
}

// ScanResult is the decoded payload, its batch and the pre-filled event
type ScanResult struct {
	Payload payload.Payload      `json:"payload"`
	Batch   domain.Batch         `json:"batch"`
	Draft   LogEventCommand      `json:"draft"`
	Event   *domain.CustodyEvent `json:"event,omitempty"`
}

// ScanHandler resolves scanned codes against the registry
type ScanHandler struct {
	store  eventstore.Store
	events *EventHandler
}

// NewScanHandler creates a new scan handler
func NewScanHandler(store eventstore.Store, events *EventHandler) *ScanHandler {
	return &ScanHandler{store: store, events: events}
}

// HandleScan decodes the payload and looks the batch up. With Log set the
// draft is appended to the ledger.
func (h *ScanHandler) HandleScan(ctx context.Context, cmd ScanCommand) (ScanResult, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return ScanResult{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	p, err := payload.ParseStrict(cmd.Payload)
	if err != nil {
		return ScanResult{Payload: p}, err
	}

	batch, err := h.store.GetBatch(ctx, p.BatchID)
	if err != nil {
		return ScanResult{Payload: p}, err
	}

	result := ScanResult{
		Payload: p,
		Batch:   batch,
		Draft: LogEventCommand{
			BatchID:         batch.ID,
			Actor:           firstNonEmpty(cmd.Actor, p.Actor),
			Role:            firstNonEmpty(cmd.Role, p.Role),
			Note:            firstNonEmpty(cmd.Note, p.Note),
			FirstViewImage:  firstNonEmpty(cmd.FirstViewImage, p.Image),
			SecondViewImage: cmd.SecondViewImage,
			LoggedBy:        cmd.LoggedBy,
		},
	}
	log.Info().Str("batch_id", batch.ID).Str("shape", string(p.Shape)).Msg("Scanned batch code")

	if !cmd.Log {
		return result, nil
	}

	event, err := h.events.HandleLogEvent(ctx, result.Draft)
	if err != nil {
		return result, err
	}
	result.Event = &event
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
