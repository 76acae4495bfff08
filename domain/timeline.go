package domain

import (
	"fmt"
)

// Timeline is the aggregate of one batch: its registry record and the
// ordered custody events logged against it.
type Timeline struct {
	batch   Batch
	state   BatchState
	events  []CustodyEvent
	changes []Event
}

// NewTimeline creates an empty, uncreated timeline
func NewTimeline() *Timeline {
	return &Timeline{state: StateUncreated}
}

// Replay rebuilds a timeline from stored records without recording changes
func Replay(batch Batch, events []CustodyEvent) (*Timeline, error) {
	t := NewTimeline()
	if err := t.apply(batch); err != nil {
		return nil, err
	}
	for _, e := range events {
		if err := t.apply(e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ID returns the batch id
func (t *Timeline) ID() string {
	return t.batch.ID
}

// State returns the lifecycle state
func (t *Timeline) State() BatchState {
	return t.state
}

// Batch returns the registry record
func (t *Timeline) Batch() Batch {
	return t.batch
}

// Version is the id of the last logged event, zero when there is none
func (t *Timeline) Version() int64 {
	return int64(len(t.events))
}

// Events returns a copy of the ordered events
func (t *Timeline) Events() []CustodyEvent {
	out := make([]CustodyEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Changes returns the changes applied since the last ClearChanges
func (t *Timeline) Changes() []Event {
	return t.changes
}

// ClearChanges clears the recorded changes
func (t *Timeline) ClearChanges() {
	t.changes = nil
}

// Apply applies a Batch or CustodyEvent and records the matching change
func (t *Timeline) Apply(change interface{}) error {
	if err := t.apply(change); err != nil {
		return err
	}

	var (
		event Event
		err   error
	)
	switch c := change.(type) {
	case Batch:
		event, err = NewBatchCreated(c)
	case CustodyEvent:
		event, err = NewCustodyEventLogged(c)
	}
	if err != nil {
		return err
	}

	t.changes = append(t.changes, event)
	return nil
}

func (t *Timeline) apply(change interface{}) error {
	switch c := change.(type) {
	case Batch:
		if t.state == StateActive {
			return fmt.Errorf("%w: %s", ErrDuplicateBatch, c.ID)
		}
		if !ValidBatchID(c.ID) {
			return fmt.Errorf("%w: %q", ErrInvalidBatchID, c.ID)
		}
		t.batch = c
		t.state = StateActive

	case CustodyEvent:
		if t.state != StateActive {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, c.BatchID)
		}
		if c.BatchID != t.batch.ID {
			return fmt.Errorf("event for batch %s applied to batch %s", c.BatchID, t.batch.ID)
		}
		if c.ID != t.Version()+1 {
			return fmt.Errorf("%w: batch %s expected event %d, got %d",
				ErrEventOutOfSequence, t.batch.ID, t.Version()+1, c.ID)
		}
		t.events = append(t.events, c)

	default:
		return fmt.Errorf("unknown change type: %T", change)
	}
	return nil
}
