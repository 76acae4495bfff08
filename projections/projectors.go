package projections

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/messaging"
)

// Projectors are re-run for a change whenever a later one fails, so each
// of them must be idempotent.

// Indexer writes batch and event documents to the search read model
type Indexer interface {
	IndexBatch(ctx context.Context, batch domain.Batch) error
	IndexEvent(ctx context.Context, event domain.CustodyEvent) error
}

// SearchProjector keeps the search indices in step with the ledger
type SearchProjector struct {
	indexer Indexer
}

// NewSearchProjector creates a new search projector
func NewSearchProjector(indexer Indexer) *SearchProjector {
	return &SearchProjector{indexer: indexer}
}

func (p *SearchProjector) Name() string { return "search" }

// Project indexes the batch or event carried by the change
func (p *SearchProjector) Project(ctx context.Context, event domain.Event) error {
	data, err := event.Decode()
	if err != nil {
		return err
	}

	switch d := data.(type) {
	case domain.BatchCreatedEvent:
		return p.indexer.IndexBatch(ctx, d.Batch)
	case domain.CustodyEventLoggedEvent:
		return p.indexer.IndexEvent(ctx, d.Event)
	default:
		return fmt.Errorf("unexpected event data %T", data)
	}
}

// Publisher sends notifications to subscribers outside the service
type Publisher interface {
	Publish(ctx context.Context, notification messaging.Notification) error
}

// NotificationProjector announces every ledger change
type NotificationProjector struct {
	publisher Publisher
}

// NewNotificationProjector creates a new notification projector
func NewNotificationProjector(publisher Publisher) *NotificationProjector {
	return &NotificationProjector{publisher: publisher}
}

func (p *NotificationProjector) Name() string { return "notification" }

// Project publishes a notification for the change
func (p *NotificationProjector) Project(ctx context.Context, event domain.Event) error {
	data, err := event.Decode()
	if err != nil {
		return err
	}

	notification := messaging.Notification{
		ID:        event.ID,
		Type:      event.Type,
		BatchID:   event.AggregateID,
		Timestamp: event.Timestamp,
	}
	switch d := data.(type) {
	case domain.BatchCreatedEvent:
		notification.ProductName = d.Batch.ProductName
		notification.Actor = d.Batch.Creator
	case domain.CustodyEventLoggedEvent:
		notification.EventID = d.Event.ID
		notification.Actor = d.Event.Actor
		notification.Role = d.Event.Role
		notification.EventHash = d.Event.EventHash
	}

	return p.publisher.Publish(ctx, notification)
}

// Invalidator drops cached reads of a batch
type Invalidator interface {
	Invalidate(ctx context.Context, batchID string) error
}

// CacheProjector invalidates cached verifications written by other replicas
type CacheProjector struct {
	invalidator Invalidator
}

// NewCacheProjector creates a new cache projector
func NewCacheProjector(invalidator Invalidator) *CacheProjector {
	return &CacheProjector{invalidator: invalidator}
}

func (p *CacheProjector) Name() string { return "cache" }

// Project drops the cached verification of the changed batch. Cache
// outages are not retried; the verifier checks freshness on every hit.
func (p *CacheProjector) Project(ctx context.Context, event domain.Event) error {
	if err := p.invalidator.Invalidate(ctx, event.AggregateID); err != nil {
		log.Warn().Err(err).Str("batch_id", event.AggregateID).Msg("Failed to invalidate cached verification")
	}
	return nil
}
