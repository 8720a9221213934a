package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"graintrust/config"
	"graintrust/internal/models"
)

// KafkaProducer implements the Producer interface with one writer per topic
type KafkaProducer struct {
	triggerWriter *kafka.Writer
	outcomeWriter *kafka.Writer
	logger        *log.Logger
}

// NewKafkaProducer creates a new KafkaProducer. The outcome writer is only
// created when an outcome topic is configured; publishing outcomes without
// one is a no-op.
func NewKafkaProducer(cfg config.KafkaProducerConfig, logger *log.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 || cfg.TriggerTopic == "" {
		return nil, errors.New("kafka producer configuration incomplete: both brokers and trigger_topic are required")
	}

	p := &KafkaProducer{
		triggerWriter: newWriter(cfg, cfg.TriggerTopic, logger),
		logger:        logger,
	}
	if cfg.OutcomeTopic != "" {
		p.outcomeWriter = newWriter(cfg, cfg.OutcomeTopic, logger)
	}

	logger.Printf("Kafka producer created, connected to Brokers: %v, TriggerTopic: %s, OutcomeTopic: %s",
		cfg.Brokers, cfg.TriggerTopic, cfg.OutcomeTopic)
	return p, nil
}

func newWriter(cfg config.KafkaProducerConfig, topic string, logger *log.Logger) *kafka.Writer {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 100 * time.Millisecond
	}

	var requiredAcks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case "none":
		requiredAcks = kafka.RequireNone
	case "one":
		requiredAcks = kafka.RequireOne
	case "all":
		requiredAcks = kafka.RequireAll
	default:
		requiredAcks = kafka.RequireOne // Default to wait for leader
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}

	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},

		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,

		RequiredAcks: requiredAcks,
		Async:        cfg.Async,

		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Printf("Kafka Writer Error: "+msg, args...)
		}),
	}
}

// PublishBatchEvent sends a trigger event, keyed by batch id so all events
// for one batch land on the same partition in emit order
func (p *KafkaProducer) PublishBatchEvent(ctx context.Context, event *models.BatchEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize batch event: %w", err)
	}

	err = p.triggerWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.BatchID),
		Value: eventBytes,
	})
	if err != nil {
		p.logger.Printf("Failed to send trigger event to buffer (EventID: %s): %v", event.EventID, err)
		return fmt.Errorf("failed to write to Kafka buffer: %w", err)
	}
	return nil
}

// PublishOutcomeEvent sends a pipeline outcome event
func (p *KafkaProducer) PublishOutcomeEvent(ctx context.Context, event *models.OutcomeEvent) error {
	if p.outcomeWriter == nil {
		return nil
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize outcome event: %w", err)
	}

	err = p.outcomeWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.BatchID),
		Value: eventBytes,
	})
	if err != nil {
		p.logger.Printf("Failed to send outcome event to buffer (EventID: %s): %v", event.EventID, err)
		return fmt.Errorf("failed to write to Kafka buffer: %w", err)
	}
	return nil
}

// Close closes both writers, flushing buffered messages
func (p *KafkaProducer) Close() error {
	p.logger.Println("Closing Kafka producer (and flushing buffers)...")
	err := p.triggerWriter.Close()
	if p.outcomeWriter != nil {
		if cerr := p.outcomeWriter.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ Producer = (*KafkaProducer)(nil) // Compile-time interface check
