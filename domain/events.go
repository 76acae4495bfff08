package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateTypeBatch is the aggregate type of every ledger change
const AggregateTypeBatch = "batch"

// EventType constants
const (
	BatchCreated       = "V1_BATCH_CREATED"
	CustodyEventLogged = "V1_CUSTODY_EVENT_LOGGED"
)

// Event is a ledger change as written to the outbox
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Type          string          `json:"type"`
	Version       int64           `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// BatchCreatedEvent is the payload of a BatchCreated change
type BatchCreatedEvent struct {
	Batch Batch `json:"batch"`
}

// CustodyEventLoggedEvent is the payload of a CustodyEventLogged change
type CustodyEventLoggedEvent struct {
	Event CustodyEvent `json:"event"`
}

// NewBatchCreated builds the outbox change for a registered batch
func NewBatchCreated(batch Batch) (Event, error) {
	return newEvent(batch.ID, BatchCreated, 0, batch.CreatedAt, BatchCreatedEvent{Batch: batch})
}

// NewCustodyEventLogged builds the outbox change for an appended event
func NewCustodyEventLogged(event CustodyEvent) (Event, error) {
	return newEvent(event.BatchID, CustodyEventLogged, event.ID, event.Timestamp, CustodyEventLoggedEvent{Event: event})
}

func newEvent(aggregateID, eventType string, version int64, ts time.Time, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateTypeBatch,
		Type:          eventType,
		Version:       version,
		Timestamp:     ts,
		Data:          raw,
	}, nil
}

// Decode unmarshals the payload into its typed form
func (e Event) Decode() (interface{}, error) {
	switch e.Type {
	case BatchCreated:
		var data BatchCreatedEvent
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return data, nil
	case CustodyEventLogged:
		var data CustodyEventLoggedEvent
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.Type)
	}
}
