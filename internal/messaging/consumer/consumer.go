package consumer

import (
	"context"

	"graintrust/internal/models"
)

// Consumer defines the interface for trigger-event consumers.
type Consumer interface {
	// Consume blocks until a trigger event is received or the context is cancelled.
	// It returns the event, an acknowledgement callback, and any error that occurred.
	// The ack callback: ack(true) for successful or terminal processing (event will
	// be deleted); ack(false) for temporary failure (event will be redelivered).
	Consume(ctx context.Context) (event *models.BatchEvent, ack func(success bool), err error)

	// Close gracefully shuts down the consumer connection.
	Close() error
}
