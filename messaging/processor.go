package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/handlers"
)

// Command types accepted on the commands queue
const (
	CreateBatch = "CreateBatch"
	LogEvent    = "LogEvent"
	ScanEvent   = "ScanEvent"
)

// AzureBusMessage is the common message structure
type AzureBusMessage struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// MessageProcessor handles one received message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// PermanentError marks a message that will fail on every delivery
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether redelivering the message cannot help
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Processor dispatches ledger commands received from the bus
type Processor struct {
	batchHandler *handlers.BatchHandler
	eventHandler *handlers.EventHandler
	scanHandler  *handlers.ScanHandler
}

// NewProcessor creates a new message processor
func NewProcessor(batchHandler *handlers.BatchHandler, eventHandler *handlers.EventHandler, scanHandler *handlers.ScanHandler) *Processor {
	return &Processor{
		batchHandler: batchHandler,
		eventHandler: eventHandler,
		scanHandler:  scanHandler,
	}
}

// ProcessMessage decodes and handles a Service Bus message
func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	return p.Process(ctx, message.Body)
}

// Process handles a raw command body
func (p *Processor) Process(ctx context.Context, body []byte) error {
	var msg AzureBusMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return &PermanentError{Err: fmt.Errorf("error unmarshalling message: %w", err)}
	}

	log.Info().Str("eventType", msg.EventType).Msg("Processing message")

	return classify(p.dispatch(ctx, msg))
}

func (p *Processor) dispatch(ctx context.Context, msg AzureBusMessage) error {
	switch msg.EventType {
	case CreateBatch:
		var cmd handlers.CreateBatchCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.batchHandler.HandleCreateBatch(ctx, cmd)
		return err

	case LogEvent:
		var cmd handlers.LogEventCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.eventHandler.HandleLogEvent(ctx, cmd)
		return err

	case ScanEvent:
		var cmd handlers.ScanCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		cmd.Log = true
		_, err := p.scanHandler.HandleScan(ctx, cmd)
		return err

	default:
		return &PermanentError{Err: fmt.Errorf("unsupported event type: %s", msg.EventType)}
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &PermanentError{Err: fmt.Errorf("error unmarshalling command: %w", err)}
	}
	return nil
}

// classify marks the errors that depend only on the message content
func classify(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}

	switch {
	case errors.Is(err, handlers.ErrInvalidCommand),
		errors.Is(err, domain.ErrDuplicateBatch),
		errors.Is(err, domain.ErrBatchNotFound),
		errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, domain.ErrInvalidBatchID):
		return &PermanentError{Err: err}
	default:
		return err
	}
}
