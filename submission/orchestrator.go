package submission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"graintrust/completion"
	"graintrust/fingerprint"
	"graintrust/identity"
	"graintrust/internal/errdefs"
	"graintrust/internal/locks"
	"graintrust/internal/models"
	"graintrust/ledger/client"
	"graintrust/ledger/types"
	"graintrust/storage/store"
)

// Outcome summarizes one submission attempt for a batch
type Outcome struct {
	BatchID            string
	BatchCode          string
	Created            bool
	Resumed            bool
	Skipped            bool
	StagesSubmitted    int
	LedgerStageCount   int
	ConsistencyWarning string
}

// Orchestrator drives a complete batch through the ledger: one create-batch
// transaction followed by one add-stage transaction per remaining stage, in
// stage order. It resumes partially submitted batches from the ledger's own
// stage count, so a crashed or timed-out run never duplicates a transaction.
type Orchestrator struct {
	store       store.Store
	ledger      client.LedgerClient
	provisioner *identity.Provisioner
	evaluator   *completion.Evaluator
	reconciler  *Reconciler
	locks       *locks.KeyedMutex
	staleAfter  time.Duration
	logger      *log.Logger
}

func NewOrchestrator(
	st store.Store,
	ledger client.LedgerClient,
	provisioner *identity.Provisioner,
	evaluator *completion.Evaluator,
	reconciler *Reconciler,
	staleAfter time.Duration,
	logger *log.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:       st,
		ledger:      ledger,
		provisioner: provisioner,
		evaluator:   evaluator,
		reconciler:  reconciler,
		locks:       locks.NewKeyedMutex(),
		staleAfter:  staleAfter,
		logger:      logger,
	}
}

// Run performs one submission attempt for the batch. Concurrent attempts
// for the same batch are collapsed: the loser returns Skipped with no error.
// Transient failures come back as categorized errors so the caller can
// retry; a final ledger stage count that disagrees with the policy is not a
// failure and rides on the Outcome as ConsistencyWarning.
func (o *Orchestrator) Run(ctx context.Context, batchID string) (*Outcome, error) {
	if !o.locks.TryLock("batch:" + batchID) {
		o.logger.Printf("Batch %s already being submitted in this process, skipping", batchID)
		return &Outcome{BatchID: batchID, Skipped: true}, nil
	}
	defer o.locks.Unlock("batch:" + batchID)

	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errdefs.New(errdefs.Validation, "batch %s does not exist", batchID)
		}
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	outcome := &Outcome{BatchID: batch.ID, BatchCode: batch.BatchCode}

	if batch.Status == models.StatusLedgerVerified {
		outcome.LedgerStageCount = o.evaluator.Policy().RequiredStages
		return outcome, nil
	}

	stages, err := o.store.ListStages(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages for batch %s: %w", batch.ID, err)
	}
	if result := o.evaluator.Evaluate(stages); !result.Complete {
		return nil, errdefs.New(errdefs.Validation,
			"batch %s does not satisfy the completion policy: %d stage(s) deficient", batch.BatchCode, len(result.Missing))
	}

	acquired, err := o.store.BeginSubmission(ctx, batch.ID, o.staleAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire submission guard for batch %s: %w", batch.ID, err)
	}
	if !acquired {
		o.logger.Printf("Batch %s is being submitted elsewhere, skipping", batch.BatchCode)
		outcome.Skipped = true
		return outcome, nil
	}

	if err := o.submit(ctx, batch, stages, outcome); err != nil {
		o.reconciler.OnError(ctx, batch, err)
		return outcome, err
	}
	return outcome, nil
}

func (o *Orchestrator) submit(ctx context.Context, batch *models.Batch, stages []models.Stage, outcome *Outcome) error {
	farmer, err := o.store.GetUser(ctx, batch.FarmerID)
	if err != nil {
		return fmt.Errorf("failed to load farmer %s: %w", batch.FarmerID, err)
	}
	if _, err := o.provisioner.EnsureIdentity(ctx, farmer.ID, farmer.Name); err != nil {
		return fmt.Errorf("failed to ensure identity for farmer %s: %w", farmer.ID, err)
	}

	sort.Slice(stages, func(i, j int) bool { return stages[i].Ordinal < stages[j].Ordinal })

	// The ledger's stage count is the resume point. A batch that was half
	// submitted before a crash picks up exactly where the ledger left off.
	next, err := o.ledgerStageCount(ctx, batch.BatchCode)
	if err != nil {
		return err
	}
	if next > 0 {
		o.logger.Printf("Batch %s already has %d stage(s) on the ledger, resuming", batch.BatchCode, next)
		outcome.Resumed = true
		if err := o.reconcileCommitted(ctx, batch, stages, next); err != nil {
			return err
		}
	}

	if next == 0 {
		created, err := o.createBatch(ctx, batch, farmer, &stages[0])
		if err != nil {
			return err
		}
		if created {
			outcome.Created = true
			outcome.StagesSubmitted++
			next = 1
		} else {
			// Lost a cross-process create race; re-read the resume point.
			outcome.Resumed = true
			if next, err = o.ledgerStageCount(ctx, batch.BatchCode); err != nil {
				return err
			}
			if err := o.reconcileCommitted(ctx, batch, stages, next); err != nil {
				return err
			}
		}
	}

	for i := next; i < len(stages); i++ {
		stage := &stages[i]
		proof, err := o.ledger.AddStage(ctx, &types.AddStageRequest{
			BatchCode: batch.BatchCode,
			StageName: stage.Name,
			ImageHash: fingerprint.Fingerprint(stage.EvidenceURLs[0]),
			Location:  batch.Location,
		})
		if err != nil {
			// The transaction may have committed even though the call
			// failed. Only the ledger can say, so re-query before deciding.
			committed, qerr := o.ledgerStageCount(ctx, batch.BatchCode)
			if qerr == nil && committed > i {
				o.logger.Printf("Stage %d for batch %s committed despite submit error: %v", stage.Ordinal, batch.BatchCode, err)
				proof = &types.TxProof{}
			} else {
				return errdefs.Wrap(errdefs.Transient, err,
					"failed to submit stage %d (%s) for batch %s", stage.Ordinal, stage.Name, batch.BatchCode)
			}
		}
		if err := o.reconciler.OnStageCommitted(ctx, batch, stage, proof); err != nil {
			return err
		}
		outcome.StagesSubmitted++
	}

	final, err := o.ledger.QueryBatch(ctx, batch.BatchCode)
	if err != nil {
		return errdefs.Wrap(errdefs.Transient, err, "failed to verify final ledger state for batch %s", batch.BatchCode)
	}
	outcome.LedgerStageCount = len(final.Stages)
	if outcome.LedgerStageCount != o.evaluator.Policy().RequiredStages {
		// Every stage we know about is on the ledger, so the sequence is
		// done; the count mismatch rides along for operator visibility
		// instead of failing the run.
		outcome.ConsistencyWarning = fmt.Sprintf(
			"ledger holds %d stage(s) for batch %s, expected %d",
			outcome.LedgerStageCount, batch.BatchCode, o.evaluator.Policy().RequiredStages)
		o.logger.Printf("Consistency warning: %s", outcome.ConsistencyWarning)
	}

	return o.reconciler.OnSequenceComplete(ctx, batch)
}

// createBatch submits the create-batch transaction carrying the first stage.
// Returns false when another process created the record first.
func (o *Orchestrator) createBatch(ctx context.Context, batch *models.Batch, farmer *models.User, first *models.Stage) (bool, error) {
	proof, err := o.ledger.CreateBatch(ctx, &types.CreateBatchRequest{
		BatchCode:  batch.BatchCode,
		FarmerName: farmer.Name,
		CropType:   batch.CropType,
		Quantity:   batch.Quantity,
		ImageHash:  fingerprint.Fingerprint(first.EvidenceURLs[0]),
		Location:   batch.Location,
		StageName:  first.Name,
	})
	if err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			o.logger.Printf("Batch %s already created on the ledger", batch.BatchCode)
			return false, nil
		}
		return false, errdefs.Wrap(errdefs.Transient, err, "failed to create batch %s on the ledger", batch.BatchCode)
	}
	if err := o.reconciler.OnBatchCreated(ctx, batch, first, proof); err != nil {
		return false, err
	}
	return true, nil
}

// reconcileCommitted settles the local rows for stages the ledger already
// holds. A crash between a ledger commit and its reconciliation leaves the
// stage row PENDING; the next attempt replays the set-to-value update here
// before submitting anything new.
func (o *Orchestrator) reconcileCommitted(ctx context.Context, batch *models.Batch, stages []models.Stage, committed int) error {
	if committed > len(stages) {
		committed = len(stages)
	}
	for i := 0; i < committed; i++ {
		if err := o.reconciler.OnStageCommitted(ctx, batch, &stages[i], &types.TxProof{}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) ledgerStageCount(ctx context.Context, batchCode string) (int, error) {
	record, err := o.ledger.QueryBatch(ctx, batchCode)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return 0, nil
		}
		return 0, errdefs.Wrap(errdefs.Transient, err, "failed to query ledger for batch %s", batchCode)
	}
	return len(record.Stages), nil
}
