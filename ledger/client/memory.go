package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"graintrust/ledger/types"
)

// MemoryLedger is an in-process LedgerClient used for broker-less local runs
// and tests. It mirrors the contract's semantics: create is not idempotent,
// stage entries are append-only and ordered.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*types.BatchRecord
	history map[string][]types.HistoryEntry
	txSeq   int
	logger  *log.Logger
}

// NewMemoryLedger creates an empty in-process ledger
func NewMemoryLedger(logger *log.Logger) *MemoryLedger {
	if logger == nil {
		logger = log.Default()
	}
	return &MemoryLedger{
		records: make(map[string]*types.BatchRecord),
		history: make(map[string][]types.HistoryEntry),
		logger:  logger,
	}
}

func (m *MemoryLedger) nextTx(batchCode string) string {
	m.txSeq++
	tx := fmt.Sprintf("memtx-%s-%d", batchCode, m.txSeq)
	m.history[batchCode] = append(m.history[batchCode], types.HistoryEntry{
		TxID:      tx,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	return tx
}

// CreateBatch creates a new batch record; duplicate codes are a conflict
func (m *MemoryLedger) CreateBatch(ctx context.Context, req *types.CreateBatchRequest) (*types.TxProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[req.BatchCode]; ok {
		return nil, fmt.Errorf("create batch %s: %w", req.BatchCode, types.ErrDuplicate)
	}

	entry := types.StageEntry{
		Stage:      req.StageName,
		ImageHash:  req.ImageHash,
		Location:   req.Location,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		VerifiedBy: req.FarmerName,
	}
	m.records[req.BatchCode] = &types.BatchRecord{
		BatchID:      req.BatchCode,
		FarmerName:   req.FarmerName,
		GrainType:    req.CropType,
		Quantity:     req.Quantity,
		CurrentStage: req.StageName,
		Stages:       []types.StageEntry{entry},
	}
	tx := m.nextTx(req.BatchCode)
	return &types.TxProof{TransactionID: tx, BlockHeight: uint64(len(m.history[req.BatchCode]))}, nil
}

// AddStage appends a stage entry to an existing batch record
func (m *MemoryLedger) AddStage(ctx context.Context, req *types.AddStageRequest) (*types.TxProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[req.BatchCode]
	if !ok {
		return nil, fmt.Errorf("add stage to batch %s: %w", req.BatchCode, types.ErrNotFound)
	}

	record.Stages = append(record.Stages, types.StageEntry{
		Stage:      req.StageName,
		ImageHash:  req.ImageHash,
		Location:   req.Location,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		VerifiedBy: record.FarmerName,
	})
	record.CurrentStage = req.StageName
	tx := m.nextTx(req.BatchCode)
	return &types.TxProof{TransactionID: tx, BlockHeight: uint64(len(m.history[req.BatchCode]))}, nil
}

// QueryBatch returns a copy of the batch record
func (m *MemoryLedger) QueryBatch(ctx context.Context, batchCode string) (*types.BatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[batchCode]
	if !ok {
		return nil, fmt.Errorf("query batch %s: %w", batchCode, types.ErrNotFound)
	}

	// Copy so callers cannot mutate ledger state
	cp := *record
	cp.Stages = append([]types.StageEntry(nil), record.Stages...)
	return &cp, nil
}

// GetHistory returns the transaction history for a batch
func (m *MemoryLedger) GetHistory(ctx context.Context, batchCode string) ([]types.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.HistoryEntry(nil), m.history[batchCode]...), nil
}

// Close releases nothing; the ledger lives in process memory
func (m *MemoryLedger) Close() error { return nil }

// Config returns nil; the memory ledger has no chain-specific configuration
func (m *MemoryLedger) Config() any { return nil }

var _ LedgerClient = (*MemoryLedger)(nil)
