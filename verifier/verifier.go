// Package verifier serves the read API relying parties use to inspect a
// batch: the registry record, its ordered custody timeline and, on request,
// an integrity audit that recomputes every stored event hash.
package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/internal/metrics"
	"example.com/backstage/services/provenance/internal/tracing"
)

// Verification is what a relying party receives for a batch
type Verification struct {
	Batch     domain.Batch          `json:"batch"`
	Events    []domain.CustodyEvent `json:"events"`
	Integrity *IntegrityReport      `json:"integrity,omitempty"`
}

// IntegrityReport is the outcome of recomputing every event hash
type IntegrityReport struct {
	OK            bool                       `json:"ok"`
	EventsChecked int                        `json:"events_checked"`
	Mismatches    []domain.HashMismatchError `json:"mismatches,omitempty"`
	SequenceError string                     `json:"sequence_error,omitempty"`

	sequenceErr error
}

// Cache stores verifications between writes. Implementations may fail;
// failures are treated as misses.
type Cache interface {
	Get(ctx context.Context, batchID string) (*Verification, bool, error)
	Set(ctx context.Context, v *Verification) error
}

// Verifier reads batches and their timelines from the ledger store
type Verifier struct {
	store eventstore.Store
	cache Cache
}

// New creates a verifier. cache may be nil.
func New(store eventstore.Store, cache Cache) *Verifier {
	return &Verifier{store: store, cache: cache}
}

// Verify returns the batch and its ordered events, or domain.ErrBatchNotFound.
// A cached result is used only while its event count matches the store.
func (v *Verifier) Verify(ctx context.Context, batchID string) (*Verification, error) {
	start := time.Now()
	result, err := v.verify(ctx, batchID)
	metrics.GetCollector().RecordOperation(metrics.OperationVerify, err == nil, time.Since(start))
	return result, err
}

func (v *Verifier) verify(ctx context.Context, batchID string) (*Verification, error) {
	if v.cache != nil {
		if cached, ok := v.cached(ctx, batchID); ok {
			return cached, nil
		}
	}

	batch, err := v.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	events, err := v.store.GetEvents(ctx, batchID)
	if err != nil {
		return nil, err
	}

	result := &Verification{Batch: batch, Events: events}
	if v.cache != nil {
		if err := v.cache.Set(ctx, result); err != nil {
			log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to cache verification")
		}
	}
	return result, nil
}

func (v *Verifier) cached(ctx context.Context, batchID string) (*Verification, bool) {
	cached, ok, err := v.cache.Get(ctx, batchID)
	if err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Verification cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	count, err := v.store.CountEvents(ctx, batchID)
	if err != nil || count != int64(len(cached.Events)) {
		return nil, false
	}
	return cached, true
}

// Audit verifies the batch and recomputes every event hash from the store,
// bypassing the cache. A tampered event is returned as *domain.HashMismatchError
// together with the full report.
func (v *Verifier) Audit(ctx context.Context, batchID string) (*Verification, error) {
	defer tracing.StartSpan(ctx, "verifier/audit").End()
	start := time.Now()

	batch, err := v.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	events, err := v.store.GetEvents(ctx, batchID)
	if err != nil {
		return nil, err
	}

	report := Check(batch, events)
	result := &Verification{Batch: batch, Events: events, Integrity: report}
	metrics.GetCollector().RecordOperation(metrics.OperationAudit, true, time.Since(start))

	if len(report.Mismatches) > 0 {
		for range report.Mismatches {
			metrics.GetCollector().RecordHashMismatch()
		}
		first := report.Mismatches[0]
		return result, &first
	}
	if report.sequenceErr != nil {
		return result, report.sequenceErr
	}
	return result, nil
}

// Check recomputes the hash of every event and replays the timeline
func Check(batch domain.Batch, events []domain.CustodyEvent) *IntegrityReport {
	report := &IntegrityReport{EventsChecked: len(events)}

	for _, e := range events {
		var mismatch *domain.HashMismatchError
		if err := e.VerifyHash(); errors.As(err, &mismatch) {
			report.Mismatches = append(report.Mismatches, *mismatch)
		}
	}

	if _, err := domain.Replay(batch, events); err != nil {
		report.sequenceErr = err
		report.SequenceError = err.Error()
	}

	report.OK = len(report.Mismatches) == 0 && report.SequenceError == ""
	return report
}

// AuditSummary totals a sweep over every batch
type AuditSummary struct {
	Batches  int      `json:"batches"`
	Events   int      `json:"events"`
	Tampered []string `json:"tampered,omitempty"`
}

// AuditAll audits every batch. Tampered batches are logged and listed;
// storage errors stop the sweep.
func (v *Verifier) AuditAll(ctx context.Context) (AuditSummary, error) {
	var summary AuditSummary

	ids, err := v.store.ListBatchIDs(ctx)
	if err != nil {
		return summary, err
	}

	for _, id := range ids {
		result, err := v.Audit(ctx, id)
		if result != nil {
			summary.Batches++
			summary.Events += len(result.Events)
		}
		if err == nil {
			continue
		}
		if result == nil {
			return summary, err
		}

		summary.Tampered = append(summary.Tampered, id)
		log.Error().Err(err).Str("batch_id", id).Msg("Batch failed integrity audit")
	}

	return summary, nil
}
