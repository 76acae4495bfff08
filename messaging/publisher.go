package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/internal/metrics"
)

// Notification announces a ledger change to downstream subscribers
type Notification struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	BatchID     string    `json:"batchId"`
	EventID     int64     `json:"eventId,omitempty"`
	ProductName string    `json:"productName,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Role        string    `json:"role,omitempty"`
	EventHash   string    `json:"eventHash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher sends notifications
type Publisher interface {
	Publish(ctx context.Context, notification Notification) error
	Close() error
}

// serviceBusPublisher sends notifications to a Service Bus queue, one
// session per batch so subscribers see a batch's changes in order
type serviceBusPublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// logPublisher only logs notifications, for local development
type logPublisher struct{}

// NewPublisher creates a Service Bus publisher, or a logging one when no
// connection string is configured
func NewPublisher(cfg config.AzureConfig) (Publisher, error) {
	if cfg.QueueConnStr == "" {
		return &logPublisher{}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.NotifyQueueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusPublisher{
		client:    client,
		sender:    sender,
		queueName: cfg.NotifyQueueName,
	}, nil
}

// Publish sends the notification with the batch id as session id
func (s *serviceBusPublisher) Publish(ctx context.Context, notification Notification) error {
	start := time.Now()

	msg, err := NewNotificationMessage(notification)
	if err != nil {
		return err
	}

	err = s.sender.SendMessage(ctx, msg, nil)
	metrics.GetCollector().RecordMessageBusOperation(metrics.MessageBusOperationSend, err == nil, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to send notification to %s: %w", s.queueName, err)
	}
	return nil
}

// Close closes the sender and the client
func (s *serviceBusPublisher) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}

func (l *logPublisher) Publish(_ context.Context, notification Notification) error {
	log.Info().
		Str("type", notification.Type).
		Str("batch_id", notification.BatchID).
		Int64("event_id", notification.EventID).
		Msg("Notification published")
	return nil
}

func (l *logPublisher) Close() error {
	return nil
}

// NewNotificationMessage builds the Service Bus message of a notification
func NewNotificationMessage(notification Notification) (*azservicebus.Message, error) {
	data, err := json.Marshal(notification)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}

	sessionID := notification.BatchID
	messageID := notification.ID
	contentType := "application/json"
	subject := notification.Type
	return &azservicebus.Message{
		Body:        data,
		MessageID:   &messageID,
		SessionID:   &sessionID,
		ContentType: &contentType,
		Subject:     &subject,
		ApplicationProperties: map[string]interface{}{
			"source": "provenance",
			"time":   notification.Timestamp.UTC().Format(time.RFC3339),
		},
	}, nil
}
