package verifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/eventstore"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*Verification
	gets    int
	hits    int
	fail    bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*Verification)}
}

func (c *memoryCache) Get(_ context.Context, batchID string) (*Verification, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.fail {
		return nil, false, errors.New("cache unavailable")
	}
	v, ok := c.entries[batchID]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, v *Verification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("cache unavailable")
	}
	c.entries[v.Batch.ID] = v
	return nil
}

// tamperingStore rewrites the note of one stored event on read
type tamperingStore struct {
	eventstore.Store
	eventID int64
}

func (s *tamperingStore) GetEvents(ctx context.Context, batchID string) ([]domain.CustodyEvent, error) {
	events, err := s.Store.GetEvents(ctx, batchID)
	for i := range events {
		if events[i].ID == s.eventID {
			events[i].Note = "rewritten after the fact"
		}
	}
	return events, err
}

func seed(t *testing.T, store eventstore.Store, batchID string, actors ...string) {
	t.Helper()
	ctx := context.Background()

	_, err := store.CreateBatch(ctx, domain.Batch{
		ID:                 batchID,
		ProductName:        "Cold-pressed Oil",
		CreatedAt:          time.Now(),
		BaselineFirstView:  "https://ipfs.io/ipfs/first",
		BaselineSecondView: "https://ipfs.io/ipfs/second",
		Creator:            "alice",
	})
	require.NoError(t, err)

	for _, actor := range actors {
		e := domain.CustodyEvent{
			BatchID:   batchID,
			Actor:     actor,
			Role:      "3PL",
			Timestamp: domain.StampTime(time.Now()),
			LoggedBy:  actor,
		}
		e.EventHash = e.ComputeHash()
		_, err := store.AppendEvent(ctx, e)
		require.NoError(t, err)
	}
}

func TestVerify(t *testing.T) {
	store := eventstore.NewMemoryStore()
	seed(t, store, "B1", "Alice", "Bob")

	result, err := New(store, nil).Verify(context.Background(), "B1")
	require.NoError(t, err)
	require.Equal(t, "B1", result.Batch.ID)
	require.Len(t, result.Events, 2)
	require.Equal(t, "Alice", result.Events[0].Actor)
	require.Equal(t, "Bob", result.Events[1].Actor)
	require.NotEqual(t, result.Events[0].EventHash, result.Events[1].EventHash)
	require.Nil(t, result.Integrity)
}

func TestVerifyUnknownBatch(t *testing.T) {
	_, err := New(eventstore.NewMemoryStore(), newMemoryCache()).Verify(context.Background(), "missing")
	require.True(t, errors.Is(err, domain.ErrBatchNotFound))
}

func TestVerifyReadsYourWritesThroughCache(t *testing.T) {
	store := eventstore.NewMemoryStore()
	cache := newMemoryCache()
	v := New(store, cache)
	ctx := context.Background()
	seed(t, store, "B1", "Alice")

	first, err := v.Verify(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, first.Events, 1)

	again, err := v.Verify(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, again.Events, 1)
	require.Equal(t, 1, cache.hits)

	// A write nobody invalidated must still be visible.
	e := domain.CustodyEvent{BatchID: "B1", Actor: "Bob", Role: "WH", Timestamp: time.Now()}
	e.EventHash = e.ComputeHash()
	_, err = store.AppendEvent(ctx, e)
	require.NoError(t, err)

	latest, err := v.Verify(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, latest.Events, 2)
}

func TestVerifyIgnoresCacheFailures(t *testing.T) {
	store := eventstore.NewMemoryStore()
	cache := newMemoryCache()
	cache.fail = true
	seed(t, store, "B1", "Alice")

	result, err := New(store, cache).Verify(context.Background(), "B1")
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
}

func TestAuditCleanBatch(t *testing.T) {
	store := eventstore.NewMemoryStore()
	seed(t, store, "B1", "Alice", "Bob", "Carol")

	result, err := New(store, nil).Audit(context.Background(), "B1")
	require.NoError(t, err)
	require.True(t, result.Integrity.OK)
	require.Equal(t, 3, result.Integrity.EventsChecked)
	require.Empty(t, result.Integrity.Mismatches)
}

func TestAuditDetectsTampering(t *testing.T) {
	mem := eventstore.NewMemoryStore()
	seed(t, mem, "B1", "Alice", "Bob", "Carol")
	store := &tamperingStore{Store: mem, eventID: 2}

	result, err := New(store, nil).Audit(context.Background(), "B1")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrHashMismatch))

	var mismatch *domain.HashMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, int64(2), mismatch.EventID)

	require.NotNil(t, result)
	require.False(t, result.Integrity.OK)
	require.Len(t, result.Integrity.Mismatches, 1)
	require.Len(t, result.Events, 3)
}

func TestCheckDetectsGaps(t *testing.T) {
	batch := domain.Batch{ID: "B1"}
	e := domain.CustodyEvent{ID: 2, BatchID: "B1", Actor: "Alice", Timestamp: time.Now()}
	e.EventHash = e.ComputeHash()

	report := Check(batch, []domain.CustodyEvent{e})
	require.False(t, report.OK)
	require.Empty(t, report.Mismatches)
	require.Contains(t, report.SequenceError, "out of sequence")
}

// gappedStore hides one stored event on read
type gappedStore struct {
	eventstore.Store
	eventID int64
}

func (s *gappedStore) GetEvents(ctx context.Context, batchID string) ([]domain.CustodyEvent, error) {
	events, err := s.Store.GetEvents(ctx, batchID)
	kept := events[:0]
	for _, e := range events {
		if e.ID != s.eventID {
			kept = append(kept, e)
		}
	}
	return kept, err
}

func TestAuditReportsSequenceErrors(t *testing.T) {
	mem := eventstore.NewMemoryStore()
	seed(t, mem, "B1", "Alice", "Bob", "Carol")
	store := &gappedStore{Store: mem, eventID: 2}

	result, err := New(store, nil).Audit(context.Background(), "B1")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrEventOutOfSequence))
	require.False(t, errors.Is(err, domain.ErrHashMismatch))

	require.NotNil(t, result)
	require.False(t, result.Integrity.OK)
	require.Empty(t, result.Integrity.Mismatches)
	require.Equal(t, err.Error(), result.Integrity.SequenceError)
}

func TestAuditAll(t *testing.T) {
	mem := eventstore.NewMemoryStore()
	seed(t, mem, "B1", "Alice")
	seed(t, mem, "B2", "Bob", "Carol")
	store := &tamperingStore{Store: mem, eventID: 2}

	summary, err := New(store, nil).AuditAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Batches)
	require.Equal(t, 3, summary.Events)
	require.Equal(t, []string{"B2"}, summary.Tampered)
}
