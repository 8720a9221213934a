package producer

import (
	"context"

	"graintrust/internal/models"
)

// Producer defines the interface for pipeline event producers
type Producer interface {
	// PublishBatchEvent sends a batch trigger event to the trigger topic
	PublishBatchEvent(ctx context.Context, event *models.BatchEvent) error

	// PublishOutcomeEvent sends a pipeline outcome event to the outcome topic
	PublishOutcomeEvent(ctx context.Context, event *models.OutcomeEvent) error

	// Close closes the producer connection
	Close() error
}
