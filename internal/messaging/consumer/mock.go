package consumer

import (
	"context"
	"errors"
	"log"

	"graintrust/internal/models"
)

// MockConsumer feeds events from an in-memory channel. Used for local runs
// without a broker and as a test double for the worker pool.
type MockConsumer struct {
	logger *log.Logger
	events chan *models.BatchEvent
}

// NewMockConsumer creates a MockConsumer with the given buffer capacity
func NewMockConsumer(capacity int, logger *log.Logger) *MockConsumer {
	if capacity <= 0 {
		capacity = 16
	}
	return &MockConsumer{
		logger: logger,
		events: make(chan *models.BatchEvent, capacity),
	}
}

// Enqueue adds an event to be consumed. Returns false when the buffer is full.
func (m *MockConsumer) Enqueue(event *models.BatchEvent) bool {
	select {
	case m.events <- event:
		return true
	default:
		m.logger.Printf("[MockConsumer] Warning: buffer full, dropping event: event_id=%s", event.EventID)
		return false
	}
}

// Consume reads events from the channel.
func (m *MockConsumer) Consume(ctx context.Context) (event *models.BatchEvent, ack func(success bool), err error) {
	select {
	case <-ctx.Done():
		m.logger.Println("[MockConsumer] Context cancelled, stopping consumption")
		return nil, nil, ctx.Err()
	case evt := <-m.events:
		if evt == nil {
			m.logger.Println("[MockConsumer] Event channel closed")
			return nil, nil, errors.New("event channel closed")
		}
		m.logger.Printf("[MockConsumer] Consumed event: event_id=%s batch_id=%s", evt.EventID, evt.BatchID)

		ackCallback := func(success bool) {
			if success {
				m.logger.Printf("[MockConsumer] ACK received for event: event_id=%s", evt.EventID)
				return
			}
			m.logger.Printf("[MockConsumer] NACK received for event: event_id=%s. Re-queueing (mock)", evt.EventID)
			select {
			case m.events <- evt:
			default:
				m.logger.Printf("[MockConsumer] Warning: Failed to re-queue event (channel full?): event_id=%s", evt.EventID)
			}
		}
		return evt, ackCallback, nil
	}
}

// Close closes the event channel.
func (m *MockConsumer) Close() error {
	m.logger.Println("[MockConsumer] Closing...")
	close(m.events)
	return nil
}

var _ Consumer = (*MockConsumer)(nil)
