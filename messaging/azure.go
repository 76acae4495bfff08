package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/internal/metrics"
)

// AzureClient consumes session-enabled command queues
type AzureClient struct {
	client *azservicebus.Client
}

// NewAzureClient creates a new Service Bus client
func NewAzureClient(cfg config.AzureConfig) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, err
	}

	return &AzureClient{client: client}, nil
}

// StartConsumers accepts sessions until ctx is cancelled and handles each
// on its own goroutine. Messages inside a session are handled in order.
func (a *AzureClient) StartConsumers(ctx context.Context, queueName string, processor MessageProcessor) error {
	log.Info().Msgf("Starting consumers for queue %s", queueName)

	for {
		sessionReceiver, err := a.client.AcceptNextSessionForQueue(ctx, queueName, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Msg("No session available, waiting...")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
				}
				continue
			}
			return err
		}

		log.Info().Msgf("Session '%s' received", sessionReceiver.SessionID())

		go a.handleSession(ctx, sessionReceiver, processor)
	}
}

func (a *AzureClient) handleSession(ctx context.Context, receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	defer func() {
		log.Info().Msgf("Closing session '%s'", receiver.SessionID())
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msgf("Error closing session '%s'", receiver.SessionID())
		}
	}()

	collector := metrics.GetCollector()
	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msgf("Error receiving messages from session '%s'", receiver.SessionID())
			}
			return
		}

		if len(messages) == 0 {
			return
		}

		log.Info().Msgf("Received %d messages from session '%s'", len(messages), receiver.SessionID())

		for _, message := range messages {
			start := time.Now()
			err := processor.ProcessMessage(ctx, message)
			collector.RecordMessageBusOperation(metrics.MessageBusOperationReceive, err == nil, time.Since(start))

			if err != nil {
				settleFailed(receiver, message, err)
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Msgf("(CompleteMessage) err: %v", err)
			}
		}
	}
}

// settleFailed dead-letters permanent failures and abandons the rest so
// they are redelivered
func settleFailed(receiver *azservicebus.SessionReceiver, message *azservicebus.ReceivedMessage, err error) {
	if IsPermanent(err) {
		log.Warn().Err(err).Msgf("Dead-lettering message '%s'", message.MessageID)
		reason := "ProcessingFailed"
		description := err.Error()
		if dlErr := receiver.DeadLetterMessage(context.Background(), message, &azservicebus.DeadLetterOptions{
			Reason:           &reason,
			ErrorDescription: &description,
		}); dlErr != nil {
			log.Error().Err(dlErr).Msgf("(DeadLetterMessage) err: %v", dlErr)
		}
		return
	}

	log.Error().Err(err).Msgf("Error processing message '%s'", message.MessageID)
	if abErr := receiver.AbandonMessage(context.Background(), message, nil); abErr != nil {
		log.Error().Err(abErr).Msgf("(AbandonMessage) err: %v", abErr)
	}
}

// Close closes the Service Bus client
func (a *AzureClient) Close() error {
	return a.client.Close(context.Background())
}
