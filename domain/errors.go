package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateBatch is returned when a batch id is already registered
	ErrDuplicateBatch = errors.New("batch already exists")
	// ErrBatchNotFound is returned for operations on an unknown batch id
	ErrBatchNotFound = errors.New("batch not found")
	// ErrMalformedPayload is returned when a scanned payload yields no batch id
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrStorageUnavailable wraps persistence failures that are safe to retry
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrHashMismatch is matched by every *HashMismatchError
	ErrHashMismatch = errors.New("event hash mismatch")
	// ErrEventOutOfSequence is returned when an event id does not extend the timeline
	ErrEventOutOfSequence = errors.New("event out of sequence")
	// ErrInvalidBatchID is returned for ids outside the accepted alphabet
	ErrInvalidBatchID = errors.New("invalid batch id")
)

// HashMismatchError reports a stored event whose recomputed hash differs
// from the hash recorded when it was logged.
type HashMismatchError struct {
	BatchID  string `json:"batch_id"`
	EventID  int64  `json:"event_id"`
	Stored   string `json:"stored"`
	Computed string `json:"computed"`
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("event %d of batch %s: stored hash %s, computed %s",
		e.EventID, e.BatchID, e.Stored, e.Computed)
}

// Is makes errors.Is(err, ErrHashMismatch) hold
func (e *HashMismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}
