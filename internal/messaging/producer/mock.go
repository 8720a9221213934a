package producer

import (
	"context"
	"sync"

	"graintrust/internal/models"
)

// MockProducer records published events in memory. Used for local runs
// without a broker and as a test double.
type MockProducer struct {
	mu       sync.Mutex
	triggers []*models.BatchEvent
	outcomes []*models.OutcomeEvent
}

func NewMockProducer() *MockProducer {
	return &MockProducer{}
}

func (m *MockProducer) PublishBatchEvent(_ context.Context, event *models.BatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, event)
	return nil
}

func (m *MockProducer) PublishOutcomeEvent(_ context.Context, event *models.OutcomeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, event)
	return nil
}

// Triggers returns a snapshot of the published trigger events
func (m *MockProducer) Triggers() []*models.BatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.BatchEvent, len(m.triggers))
	copy(out, m.triggers)
	return out
}

// Outcomes returns a snapshot of the published outcome events
func (m *MockProducer) Outcomes() []*models.OutcomeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.OutcomeEvent, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

func (m *MockProducer) Close() error { return nil }

var _ Producer = (*MockProducer)(nil)
