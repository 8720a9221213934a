package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"graintrust/completion"
	"graintrust/internal/messaging/producer"
	"graintrust/internal/models"
	"graintrust/ledger/client"
	"graintrust/ledger/types"
	"graintrust/storage/store"
)

// ErrBatchNotFound is returned when the referenced batch does not exist
var ErrBatchNotFound = errors.New("batch not found")

// ErrCertificateNotFound is returned when no certificate matches the id
var ErrCertificateNotFound = errors.New("certificate not found")

// TriggerResult reports whether a trigger was accepted into the pipeline
type TriggerResult struct {
	BatchID   string                       `json:"batch_id"`
	BatchCode string                       `json:"batch_code"`
	Accepted  bool                         `json:"accepted"`
	Reason    string                       `json:"reason,omitempty"`
	Missing   []completion.StageDeficiency `json:"missing,omitempty"`
	EventID   string                       `json:"event_id,omitempty"`
}

// StatusResult is the full pipeline view of one batch
type StatusResult struct {
	BatchID       string                       `json:"batch_id"`
	BatchCode     string                       `json:"batch_code"`
	Status        models.VerificationStatus    `json:"status"`
	ErrorMessage  string                       `json:"error_message,omitempty"`
	VerifiedAt    *time.Time                   `json:"verified_at,omitempty"`
	Complete      bool                         `json:"complete"`
	Missing       []completion.StageDeficiency `json:"missing,omitempty"`
	Stages        []StageStatus                `json:"stages"`
	CertificateID string                       `json:"certificate_id,omitempty"`
}

// StageStatus is one stage row in a status response
type StageStatus struct {
	Ordinal       int                `json:"ordinal"`
	Name          string             `json:"name"`
	Status        models.StageStatus `json:"status"`
	EvidenceCount int                `json:"evidence_count"`
}

// HistoryResult is the ledger-side transaction trail of one batch
type HistoryResult struct {
	BatchID   string               `json:"batch_id"`
	BatchCode string               `json:"batch_code"`
	Entries   []types.HistoryEntry `json:"entries"`
}

// SweepResult summarizes one sweep over all unverified batches
type SweepResult struct {
	Scanned    int      `json:"scanned"`
	Triggered  int      `json:"triggered"`
	Incomplete int      `json:"incomplete"`
	BatchIDs   []string `json:"batch_ids,omitempty"`
}

// Service encapsulates the core business logic of the trigger gateway: the
// completion gate in front of the pipeline, status reads, and the periodic
// sweep that picks up batches missed by webhooks.
type Service struct {
	store     store.Store
	producer  producer.Producer
	evaluator *completion.Evaluator
	ledger    client.LedgerClient
	logger    *log.Logger
}

// NewService creates a new Service instance. The ledger client is only read
// from, for the history endpoint; all writes stay with the engine.
func NewService(s store.Store, p producer.Producer, evaluator *completion.Evaluator, ledger client.LedgerClient, l *log.Logger) *Service {
	return &Service{store: s, producer: p, evaluator: evaluator, ledger: ledger, logger: l}
}

// TriggerBatch evaluates the completion gate for a batch and, when it
// passes, publishes a trigger event for the submission engine. Triggering
// is advisory: the engine re-evaluates before submitting, so a duplicate or
// stale trigger is harmless.
func (s *Service) TriggerBatch(ctx context.Context, batchID, source string) (*TriggerResult, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}

	result := &TriggerResult{BatchID: batch.ID, BatchCode: batch.BatchCode}

	if batch.Status == models.StatusLedgerVerified {
		result.Reason = "batch already ledger-verified"
		return result, nil
	}
	if batch.Status == models.StatusSubmitting {
		result.Reason = "submission already in progress"
		return result, nil
	}

	stages, err := s.store.ListStages(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages for batch %s: %w", batch.ID, err)
	}
	evaluation := s.evaluator.Evaluate(stages)
	if !evaluation.Complete {
		result.Reason = "completion policy not satisfied"
		result.Missing = evaluation.Missing
		return result, nil
	}

	event := &models.BatchEvent{
		EventID:   uuid.NewString(),
		BatchID:   batch.ID,
		BatchCode: batch.BatchCode,
		Source:    source,
		EmittedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.producer.PublishBatchEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to publish trigger for batch %s: %w", batch.ID, err)
	}

	s.logger.Printf("Triggered batch %s (source: %s, event: %s)", batch.BatchCode, source, event.EventID)
	result.Accepted = true
	result.EventID = event.EventID
	return result, nil
}

// BatchStatus returns the pipeline view of one batch
func (s *Service) BatchStatus(ctx context.Context, batchID string) (*StatusResult, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	stages, err := s.store.ListStages(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages for batch %s: %w", batch.ID, err)
	}

	evaluation := s.evaluator.Evaluate(stages)
	result := &StatusResult{
		BatchID:      batch.ID,
		BatchCode:    batch.BatchCode,
		Status:       batch.Status,
		ErrorMessage: batch.ErrorMessage,
		VerifiedAt:   batch.VerifiedAt,
		Complete:     evaluation.Complete,
		Missing:      evaluation.Missing,
	}
	for _, stage := range stages {
		result.Stages = append(result.Stages, StageStatus{
			Ordinal:       stage.Ordinal,
			Name:          stage.Name,
			Status:        stage.Status,
			EvidenceCount: len(stage.EvidenceURLs),
		})
	}

	if cert, err := s.store.GetCertificateByBatch(ctx, batch.ID); err == nil {
		result.CertificateID = cert.CertificateID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up certificate for batch %s: %w", batch.ID, err)
	}

	return result, nil
}

// SweepPending triggers every unverified batch that currently satisfies the
// completion policy. Used by the process-all endpoint and by operators after
// an engine outage.
func (s *Service) SweepPending(ctx context.Context) (*SweepResult, error) {
	batches, err := s.store.ListUnverifiedBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unverified batches: %w", err)
	}

	result := &SweepResult{Scanned: len(batches)}
	for i := range batches {
		batch := &batches[i]
		trigger, err := s.TriggerBatch(ctx, batch.ID, "sweep")
		if err != nil {
			s.logger.Printf("Sweep: failed to trigger batch %s: %v", batch.ID, err)
			continue
		}
		if trigger.Accepted {
			result.Triggered++
			result.BatchIDs = append(result.BatchIDs, batch.ID)
		} else {
			result.Incomplete++
		}
	}
	s.logger.Printf("Sweep completed: scanned=%d triggered=%d incomplete=%d", result.Scanned, result.Triggered, result.Incomplete)
	return result, nil
}

// BatchHistory returns the ledger transaction trail for a batch. A batch
// that has nothing on the ledger yet gets an empty trail, not an error.
func (s *Service) BatchHistory(ctx context.Context, batchID string) (*HistoryResult, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}

	entries, err := s.ledger.GetHistory(ctx, batch.BatchCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger history for batch %s: %w", batch.BatchCode, err)
	}
	return &HistoryResult{BatchID: batch.ID, BatchCode: batch.BatchCode, Entries: entries}, nil
}

// Certificate looks up an issued certificate by its public id
func (s *Service) Certificate(ctx context.Context, certificateID string) (*models.Certificate, error) {
	cert, err := s.store.GetCertificate(ctx, certificateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("failed to load certificate %s: %w", certificateID, err)
	}
	return cert, nil
}
