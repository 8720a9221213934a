package client

import (
	"context"

	"graintrust/ledger/types"
)

// LedgerClient defines the generic interface for ledger interactions
// This interface is ledger-agnostic and can be implemented by different clients
type LedgerClient interface {
	// CreateBatch submits the create-batch transaction. Exactly one create
	// per batch lifetime; a second create returns types.ErrDuplicate.
	CreateBatch(ctx context.Context, req *types.CreateBatchRequest) (*types.TxProof, error)

	// AddStage submits an add-stage transaction for an existing batch
	AddStage(ctx context.Context, req *types.AddStageRequest) (*types.TxProof, error)

	// QueryBatch queries the ledger for a batch record (non-mutating).
	// Returns types.ErrNotFound when no record exists for the batch code.
	QueryBatch(ctx context.Context, batchCode string) (*types.BatchRecord, error)

	// GetHistory returns the transaction history for a batch (non-mutating)
	GetHistory(ctx context.Context, batchCode string) ([]types.HistoryEntry, error)

	// Close closes the ledger client and releases resources
	Close() error

	// Config returns the configuration associated with the client
	Config() any // Return any to accommodate different config types
}
