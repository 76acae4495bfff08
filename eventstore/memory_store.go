package eventstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"example.com/backstage/services/provenance/domain"
)

type outboxEntry struct {
	event     domain.Event
	processed bool
	attempts  int
	lastError string
}

// MemoryStore implements Store in process memory. One lock guards every
// timeline so check-then-write sequences are atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	timelines map[string]*domain.Timeline
	order     []string
	outbox    []*outboxEntry
	events    int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{timelines: make(map[string]*domain.Timeline)}
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// CreateBatch registers a new batch
func (s *MemoryStore) CreateBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	if err := checkContext(ctx); err != nil {
		return domain.Batch{}, err
	}
	batch.CreatedAt = domain.StampTime(batch.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timelines[batch.ID]; ok {
		return domain.Batch{}, fmt.Errorf("%w: %s", domain.ErrDuplicateBatch, batch.ID)
	}

	timeline := domain.NewTimeline()
	if err := timeline.Apply(batch); err != nil {
		return domain.Batch{}, err
	}

	s.timelines[batch.ID] = timeline
	s.order = append(s.order, batch.ID)
	s.collect(timeline)
	return batch, nil
}

// GetBatch returns a batch by id
func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (domain.Batch, error) {
	if err := checkContext(ctx); err != nil {
		return domain.Batch{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	timeline, ok := s.timelines[batchID]
	if !ok {
		return domain.Batch{}, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	return timeline.Batch(), nil
}

// ListBatchIDs returns every batch id in creation order
func (s *MemoryStore) ListBatchIDs(ctx context.Context) ([]string, error) {
	return s.filter(ctx, func(domain.Batch) bool { return true })
}

// ListBatchIDsByCreator returns the ids of batches created by creator
func (s *MemoryStore) ListBatchIDsByCreator(ctx context.Context, creator string) ([]string, error) {
	return s.filter(ctx, func(b domain.Batch) bool { return b.Creator == creator })
}

// SearchByProductName matches a case-insensitive substring of the product name
func (s *MemoryStore) SearchByProductName(ctx context.Context, term string) ([]string, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	return s.filter(ctx, func(b domain.Batch) bool {
		return strings.Contains(strings.ToLower(b.ProductName), needle)
	})
}

func (s *MemoryStore) filter(ctx context.Context, keep func(domain.Batch) bool) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if keep(s.timelines[id].Batch()) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AppendEvent appends an event to the batch timeline
func (s *MemoryStore) AppendEvent(ctx context.Context, event domain.CustodyEvent) (domain.CustodyEvent, error) {
	if err := checkContext(ctx); err != nil {
		return domain.CustodyEvent{}, err
	}
	event.Timestamp = domain.StampTime(event.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()

	timeline, ok := s.timelines[event.BatchID]
	if !ok {
		return domain.CustodyEvent{}, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, event.BatchID)
	}

	event.ID = timeline.Version() + 1
	if err := timeline.Apply(event); err != nil {
		return domain.CustodyEvent{}, err
	}

	s.events++
	s.collect(timeline)
	return event, nil
}

// GetEvents returns the ordered timeline of a batch
func (s *MemoryStore) GetEvents(ctx context.Context, batchID string) ([]domain.CustodyEvent, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	timeline, ok := s.timelines[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	return timeline.Events(), nil
}

// CountEvents returns the number of events of a batch
func (s *MemoryStore) CountEvents(ctx context.Context, batchID string) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	timeline, ok := s.timelines[batchID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	return timeline.Version(), nil
}

// Stats returns ledger totals
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := checkContext(ctx); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{Batches: int64(len(s.timelines)), Events: s.events}, nil
}

// caller holds the write lock
func (s *MemoryStore) collect(timeline *domain.Timeline) {
	for _, change := range timeline.Changes() {
		s.outbox = append(s.outbox, &outboxEntry{event: change})
	}
	timeline.ClearChanges()
}

// GetUnprocessedEvents gets outbox changes not yet projected, oldest first
func (s *MemoryStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []domain.Event
	for _, entry := range s.outbox {
		if len(events) >= limit {
			break
		}
		if !entry.processed && entry.attempts < MaxOutboxAttempts {
			events = append(events, entry.event)
		}
	}
	return events, nil
}

// MarkEventAsProcessed marks an outbox change as projected
func (s *MemoryStore) MarkEventAsProcessed(ctx context.Context, eventID string) error {
	return s.updateOutbox(ctx, eventID, func(entry *outboxEntry) {
		entry.processed = true
	})
}

// MarkEventFailed records a failed projection attempt
func (s *MemoryStore) MarkEventFailed(ctx context.Context, eventID string, reason string) error {
	return s.updateOutbox(ctx, eventID, func(entry *outboxEntry) {
		entry.attempts++
		entry.lastError = reason
	})
}

func (s *MemoryStore) updateOutbox(ctx context.Context, eventID string, update func(*outboxEntry)) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.outbox {
		if entry.event.ID == eventID {
			update(entry)
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", eventID)
}
