package submission

import (
	"context"
	"fmt"
	"log"

	"graintrust/internal/models"
	"graintrust/ledger/types"
	"graintrust/storage/store"
)

// Reconciler projects ledger commits back into the relational store. Every
// write is a set-to-value update keyed on what the ledger already holds, so
// replaying a reconciliation after a crash converges on the same rows.
type Reconciler struct {
	store  store.Store
	logger *log.Logger
}

func NewReconciler(st store.Store, logger *log.Logger) *Reconciler {
	return &Reconciler{store: st, logger: logger}
}

// OnBatchCreated records that the create-batch transaction committed,
// carrying the first stage with it.
func (r *Reconciler) OnBatchCreated(ctx context.Context, batch *models.Batch, stage *models.Stage, proof *types.TxProof) error {
	r.logger.Printf("Ledger created batch %s (tx %s, block %d)", batch.BatchCode, proof.TransactionID, proof.BlockHeight)
	if err := r.store.UpdateStageStatus(ctx, stage.ID, models.StageVerified); err != nil {
		return fmt.Errorf("failed to mark stage %s verified: %w", stage.ID, err)
	}
	return nil
}

// OnStageCommitted records that an add-stage transaction committed
func (r *Reconciler) OnStageCommitted(ctx context.Context, batch *models.Batch, stage *models.Stage, proof *types.TxProof) error {
	r.logger.Printf("Ledger committed stage %d (%s) for batch %s (tx %s)", stage.Ordinal, stage.Name, batch.BatchCode, proof.TransactionID)
	if err := r.store.UpdateStageStatus(ctx, stage.ID, models.StageVerified); err != nil {
		return fmt.Errorf("failed to mark stage %s verified: %w", stage.ID, err)
	}
	return nil
}

// OnSequenceComplete marks the batch ledger-verified once every required
// stage is confirmed on the ledger.
func (r *Reconciler) OnSequenceComplete(ctx context.Context, batch *models.Batch) error {
	if err := r.store.MarkBatchVerified(ctx, batch.ID); err != nil {
		return fmt.Errorf("failed to mark batch %s verified: %w", batch.ID, err)
	}
	r.logger.Printf("Batch %s fully verified on ledger", batch.BatchCode)
	return nil
}

// OnError records a failed submission attempt. Stages already committed to
// the ledger keep their verified status; only the batch row carries the
// error so the next attempt resumes from the ledger's count.
func (r *Reconciler) OnError(ctx context.Context, batch *models.Batch, cause error) {
	if err := r.store.UpdateBatchStatus(ctx, batch.ID, models.StatusError, cause.Error()); err != nil {
		r.logger.Printf("Error: failed to record submission error for batch %s: %v", batch.ID, err)
	}
}
