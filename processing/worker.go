package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"graintrust/certificate"
	"graintrust/completion"
	"graintrust/config"
	"graintrust/internal/errdefs"
	"graintrust/internal/messaging/consumer"
	"graintrust/internal/messaging/producer"
	"graintrust/internal/models"
	"graintrust/storage/store"
	"graintrust/submission"
)

// Worker consumes batch trigger events and drives each batch through the
// full pipeline: completion gate, ledger submission, certificate issuance,
// outcome publication.
type Worker struct {
	workerConfig       config.WorkerConfig
	consumerRetryDelay time.Duration // Parsed from workerConfig.ConsumerRetryDelay
	ledgerTimeout      time.Duration // Parsed from workerConfig.LedgerTimeout

	logger       *log.Logger
	store        store.Store
	consumer     consumer.Consumer
	producer     producer.Producer
	evaluator    *completion.Evaluator
	orchestrator *submission.Orchestrator
	issuer       *certificate.Issuer
}

// New creates a new Worker instance
func New(
	cfg config.WorkerConfig,
	logger *log.Logger,
	s store.Store,
	c consumer.Consumer,
	p producer.Producer,
	evaluator *completion.Evaluator,
	orchestrator *submission.Orchestrator,
	issuer *certificate.Issuer,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	consumerRetryDelay, err := time.ParseDuration(cfg.ConsumerRetryDelay)
	if err != nil {
		logger.Printf("Warning: Invalid consumer_retry_delay '%s', using default 5s", cfg.ConsumerRetryDelay)
		consumerRetryDelay = 5 * time.Second
	}

	ledgerTimeout, err := time.ParseDuration(cfg.LedgerTimeout)
	if err != nil {
		logger.Printf("Warning: Invalid ledger_timeout '%s', using default 15s", cfg.LedgerTimeout)
		ledgerTimeout = 15 * time.Second
	}

	return &Worker{
		workerConfig:       cfg,
		consumerRetryDelay: consumerRetryDelay,
		ledgerTimeout:      ledgerTimeout,
		logger:             logger,
		store:              s,
		consumer:           c,
		producer:           p,
		evaluator:          evaluator,
		orchestrator:       orchestrator,
		issuer:             issuer,
	}
}

// Run starts the worker pool and blocks until the context is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Printf("Starting worker pool with concurrency: %d, ledger timeout: %s",
		w.workerConfig.Concurrency, w.ledgerTimeout)
	var wg sync.WaitGroup
	for i := 0; i < w.workerConfig.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.logger.Printf("Worker %d started", workerID)
			w.consumeLoop(ctx, workerID)
			w.logger.Printf("Worker %d stopped", workerID)
		}(i + 1)
	}
	wg.Wait()
	w.logger.Println("Worker pool stopped.")
}

func (w *Worker) consumeLoop(ctx context.Context, workerID int) {
	for {
		event, ack, err := w.consumer.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				w.logger.Printf("Worker %d: Context cancelled, stopping.", workerID)
				return
			}
			w.logger.Printf("Worker %d: Consumer error: %v", workerID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.consumerRetryDelay):
			}
			continue
		}
		if event == nil {
			continue
		}

		pipelineCtx, cancel := context.WithTimeout(ctx, w.ledgerTimeout)
		retryable := w.handleEvent(pipelineCtx, workerID, event)
		cancel()

		// ack(true) deletes the event; only transient failures are redelivered
		ack(!retryable)
	}
}

// handleEvent runs the pipeline for one trigger event. It returns true when
// the failure is transient and the event should be redelivered.
func (w *Worker) handleEvent(ctx context.Context, workerID int, event *models.BatchEvent) bool {
	w.logger.Printf("Worker %d: Processing trigger %s for batch %s (source: %s)", workerID, event.EventID, event.BatchID, event.Source)

	batch, err := w.store.GetBatch(ctx, event.BatchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Printf("Worker %d: Batch %s no longer exists, dropping trigger", workerID, event.BatchID)
			return false
		}
		w.logger.Printf("Worker %d: Failed to load batch %s: %v", workerID, event.BatchID, err)
		return true
	}

	// Re-evaluate the completion gate on current rows: the event may be
	// stale by the time it is consumed.
	if batch.Status != models.StatusLedgerVerified {
		stages, err := w.store.ListStages(ctx, batch.ID)
		if err != nil {
			w.logger.Printf("Worker %d: Failed to load stages for batch %s: %v", workerID, batch.ID, err)
			return true
		}
		if result := w.evaluator.Evaluate(stages); !result.Complete {
			w.logger.Printf("Worker %d: Batch %s no longer complete (%d stage(s) deficient), dropping trigger",
				workerID, batch.BatchCode, len(result.Missing))
			return false
		}
	}

	outcome, err := w.orchestrator.Run(ctx, batch.ID)
	if err != nil {
		switch {
		case errdefs.IsValidation(err) || errdefs.IsConfiguration(err) || errdefs.IsConsistency(err):
			// Terminal for this trigger; the batch row carries the error.
			w.logger.Printf("Worker %d: Submission rejected for batch %s: %v", workerID, batch.BatchCode, err)
			w.publishOutcome(event, batch, models.StatusError, outcome, err, "")
			return false
		default:
			w.logger.Printf("Worker %d: Transient submission failure for batch %s: %v", workerID, batch.BatchCode, err)
			return true
		}
	}
	if outcome.Skipped {
		w.logger.Printf("Worker %d: Batch %s submission skipped (in progress elsewhere)", workerID, batch.BatchCode)
		return false
	}
	if outcome.ConsistencyWarning != "" {
		w.logger.Printf("Worker %d: %s", workerID, outcome.ConsistencyWarning)
	}

	cert, err := w.issuer.Issue(ctx, batch.ID)
	if err != nil {
		if errdefs.IsValidation(err) {
			w.logger.Printf("Worker %d: Certificate refused for batch %s: %v", workerID, batch.BatchCode, err)
			w.publishOutcome(event, batch, models.StatusError, outcome, err, "")
			return false
		}
		w.logger.Printf("Worker %d: Transient issuance failure for batch %s: %v", workerID, batch.BatchCode, err)
		return true
	}

	w.logger.Printf("Worker %d: Batch %s verified, certificate %s (stages submitted: %d)",
		workerID, batch.BatchCode, cert.CertificateID, outcome.StagesSubmitted)
	w.publishOutcome(event, batch, models.StatusLedgerVerified, outcome, nil, cert.CertificateID)
	return false
}

func (w *Worker) publishOutcome(
	event *models.BatchEvent,
	batch *models.Batch,
	status models.VerificationStatus,
	outcome *submission.Outcome,
	cause error,
	certificateID string,
) {
	result := &models.OutcomeEvent{
		EventID:       uuid.New().String(),
		BatchID:       batch.ID,
		BatchCode:     batch.BatchCode,
		Status:        string(status),
		CertificateID: certificateID,
		EmittedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if outcome != nil {
		result.StagesCommitted = outcome.LedgerStageCount
		result.Warning = outcome.ConsistencyWarning
	}
	if cause != nil {
		result.Error = cause.Error()
	}

	// Outcome publication is best-effort: the store already reflects the
	// result, so a publish failure must not fail the pipeline.
	publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.producer.PublishOutcomeEvent(publishCtx, result); err != nil {
		w.logger.Printf("Warning: Failed to publish outcome for batch %s (trigger %s): %v", batch.BatchCode, event.EventID, err)
	}
}
