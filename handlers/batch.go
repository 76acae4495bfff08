package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/internal/metrics"
	"example.com/backstage/services/provenance/utils"
)

// ErrInvalidCommand is returned when a command fails validation
var ErrInvalidCommand = errors.New("invalid command")

const maxGeneratedIDAttempts = 5

// CreateBatchCommand registers a new batch. An empty ID is generated.
type CreateBatchCommand struct {
	BatchID            string `json:"id" validate:"omitempty,batch_id"`
	ProductName        string `json:"productName" validate:"required,max=255"`
	SKU                string `json:"sku" validate:"max=128"`
	Origin             string `json:"origin" validate:"max=255"`
	BaselineFirstView  string `json:"baselineFirstView" validate:"required,max=2048"`
	BaselineSecondView string `json:"baselineSecondView" validate:"required,max=2048"`
	Creator            string `json:"creator" validate:"required,max=255"`
}

// Invalidator drops cached reads of a batch after it changes
type Invalidator interface {
	Invalidate(ctx context.Context, batchID string) error
}

// BatchHandler handles the batch registry commands and queries
type BatchHandler struct {
	store       eventstore.Store
	idPrefix    string
	invalidator Invalidator
	now         func() time.Time
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(store eventstore.Store, idPrefix string, invalidator Invalidator) *BatchHandler {
	return &BatchHandler{
		store:       store,
		idPrefix:    idPrefix,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// HandleCreateBatch registers a batch and returns the stored record
func (h *BatchHandler) HandleCreateBatch(ctx context.Context, cmd CreateBatchCommand) (domain.Batch, error) {
	log.Info().Str("batch_id", cmd.BatchID).Str("creator", cmd.Creator).Msg("Handling CreateBatch command")
	start := time.Now()

	if err := utils.ValidateStruct(cmd); err != nil {
		return domain.Batch{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	batch := domain.Batch{
		ID:                 cmd.BatchID,
		ProductName:        cmd.ProductName,
		SKU:                cmd.SKU,
		Origin:             cmd.Origin,
		CreatedAt:          domain.StampTime(h.now()),
		BaselineFirstView:  cmd.BaselineFirstView,
		BaselineSecondView: cmd.BaselineSecondView,
		Creator:            cmd.Creator,
	}

	created, err := h.create(ctx, batch, cmd.BatchID == "")
	metrics.GetCollector().RecordOperation(metrics.OperationCreateBatch, err == nil, time.Since(start))
	if err != nil {
		return domain.Batch{}, err
	}

	invalidate(ctx, h.invalidator, created.ID)
	return created, nil
}

// generated ids are retried on collision, operator ids are not
func (h *BatchHandler) create(ctx context.Context, batch domain.Batch, generate bool) (domain.Batch, error) {
	if !generate {
		return h.store.CreateBatch(ctx, batch)
	}

	var lastErr error
	for attempt := 0; attempt < maxGeneratedIDAttempts; attempt++ {
		id, err := domain.NewBatchID(h.idPrefix)
		if err != nil {
			return domain.Batch{}, err
		}
		batch.ID = id

		created, err := h.store.CreateBatch(ctx, batch)
		if !errors.Is(err, domain.ErrDuplicateBatch) {
			return created, err
		}
		lastErr = err
	}
	return domain.Batch{}, fmt.Errorf("failed to generate a free batch id: %w", lastErr)
}

// GetBatch returns a batch or domain.ErrBatchNotFound
func (h *BatchHandler) GetBatch(ctx context.Context, batchID string) (domain.Batch, error) {
	return h.store.GetBatch(ctx, batchID)
}

// ListBatchIDs returns every batch id in creation order
func (h *BatchHandler) ListBatchIDs(ctx context.Context) ([]string, error) {
	return h.store.ListBatchIDs(ctx)
}

// ListBatchIDsByCreator returns the ids of batches created by creator
func (h *BatchHandler) ListBatchIDsByCreator(ctx context.Context, creator string) ([]string, error) {
	return h.store.ListBatchIDsByCreator(ctx, creator)
}

// SearchByProductName returns the ids of batches whose product name
// contains term, ignoring case. An empty term matches every batch.
func (h *BatchHandler) SearchByProductName(ctx context.Context, term string) ([]string, error) {
	return h.store.SearchByProductName(ctx, term)
}

// Stats returns ledger totals
func (h *BatchHandler) Stats(ctx context.Context) (eventstore.Stats, error) {
	return h.store.Stats(ctx)
}

func invalidate(ctx context.Context, invalidator Invalidator, batchID string) {
	if invalidator == nil {
		return
	}
	if err := invalidator.Invalidate(ctx, batchID); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to invalidate cached verification")
	}
}
