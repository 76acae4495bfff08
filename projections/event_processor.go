package projections

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/internal/metrics"
)

// Projector applies one outbox change to a read model
type Projector interface {
	Name() string
	Project(ctx context.Context, event domain.Event) error
}

// EventProcessor drains the outbox into the projectors
type EventProcessor struct {
	store      eventstore.Store
	projectors []Projector
	batchSize  int
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(store eventstore.Store, batchSize int, projectors ...Projector) *EventProcessor {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &EventProcessor{
		store:      store,
		projectors: projectors,
		batchSize:  batchSize,
	}
}

// ProcessBatch projects one batch of unprocessed changes and returns how
// many were marked processed. A change is processed only when every
// projector accepted it; otherwise its failure is recorded for retry.
func (p *EventProcessor) ProcessBatch(ctx context.Context) (int, error) {
	events, err := p.store.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	collector := metrics.GetCollector()
	if len(events) == 0 {
		collector.SetGauge(metrics.GaugeOutboxBacklog, 0)
		return 0, nil
	}

	log.Info().Msgf("Processing %d events", len(events))

	processed := 0
	for _, event := range events {
		start := time.Now()
		if err := p.processEvent(ctx, event); err != nil {
			collector.RecordOperation(metrics.OperationProject, false, time.Since(start))
			log.Error().Err(err).Str("event_id", event.ID).Str("type", event.Type).Msg("Failed to process event")
			if markErr := p.store.MarkEventFailed(ctx, event.ID, err.Error()); markErr != nil {
				log.Error().Err(markErr).Str("event_id", event.ID).Msg("Failed to record projection failure")
			}
			continue
		}
		collector.RecordOperation(metrics.OperationProject, true, time.Since(start))

		if err := p.store.MarkEventAsProcessed(ctx, event.ID); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to mark event as processed")
			continue
		}
		processed++
	}

	collector.SetGauge(metrics.GaugeOutboxBacklog, float64(len(events)-processed))
	return processed, nil
}

func (p *EventProcessor) processEvent(ctx context.Context, event domain.Event) error {
	if event.AggregateType != domain.AggregateTypeBatch {
		log.Warn().Str("aggregate_type", event.AggregateType).Msg("Unknown aggregate type")
		return nil
	}

	for _, projector := range p.projectors {
		if err := projector.Project(ctx, event); err != nil {
			return &ProjectionError{Projector: projector.Name(), Err: err}
		}
	}
	return nil
}

// ProjectionError names the projector that rejected a change
type ProjectionError struct {
	Projector string
	Err       error
}

func (e *ProjectionError) Error() string {
	return e.Projector + ": " + e.Err.Error()
}

func (e *ProjectionError) Unwrap() error {
	return e.Err
}
