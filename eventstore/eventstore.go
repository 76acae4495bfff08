package eventstore

import (
	"context"

	"example.com/backstage/services/provenance/domain"
)

// MaxOutboxAttempts bounds how often a failing outbox change is retried
const MaxOutboxAttempts = 5

// Stats holds ledger totals
type Stats struct {
	Batches int64 `json:"total_batches"`
	Events  int64 `json:"total_events"`
}

// Store is the registry and ledger of record. CreateBatch and AppendEvent
// are the only writes; each is atomic together with its outbox change.
type Store interface {
	// CreateBatch registers a batch, failing with domain.ErrDuplicateBatch if the id exists
	CreateBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error)

	// GetBatch returns a batch or domain.ErrBatchNotFound
	GetBatch(ctx context.Context, batchID string) (domain.Batch, error)

	// ListBatchIDs returns every batch id in creation order
	ListBatchIDs(ctx context.Context) ([]string, error)

	// ListBatchIDsByCreator returns the ids of batches created by creator
	ListBatchIDsByCreator(ctx context.Context, creator string) ([]string, error)

	// SearchByProductName returns ids whose product name contains term, ignoring case
	SearchByProductName(ctx context.Context, term string) ([]string, error)

	// AppendEvent assigns the next id of the batch timeline and persists the event
	AppendEvent(ctx context.Context, event domain.CustodyEvent) (domain.CustodyEvent, error)

	// GetEvents returns the timeline of a batch in ascending id order
	GetEvents(ctx context.Context, batchID string) ([]domain.CustodyEvent, error)

	// CountEvents returns the number of events logged against a batch
	CountEvents(ctx context.Context, batchID string) (int64, error)

	// Stats returns ledger totals
	Stats(ctx context.Context) (Stats, error)

	// GetUnprocessedEvents gets outbox changes not yet projected
	GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error)

	// MarkEventAsProcessed marks an outbox change as projected
	MarkEventAsProcessed(ctx context.Context, eventID string) error

	// MarkEventFailed records a failed projection attempt
	MarkEventFailed(ctx context.Context, eventID string, reason string) error
}
