package types

import "errors"

// ErrNotFound is returned by QueryBatch when the ledger holds no record for
// the batch code. Callers use it to distinguish "never created" from failure.
var ErrNotFound = errors.New("batch record not found on ledger")

// ErrDuplicate is returned by CreateBatch when a record for the batch code
// already exists. Batch creation is not idempotent on the ledger; callers
// must convert this into resume semantics.
var ErrDuplicate = errors.New("batch record already exists on ledger")

// StageEntry is one stage event in the ledger's batch record.
// Field names match the contract's JSON output.
type StageEntry struct {
	Stage      string `json:"stage"`
	ImageHash  string `json:"imageHash"`
	Location   string `json:"location"`
	Timestamp  string `json:"timestamp"`
	VerifiedBy string `json:"verifiedBy"`
}

// BatchRecord is the ledger's own representation of a batch: the
// authoritative record the relational projection mirrors.
type BatchRecord struct {
	BatchID      string       `json:"batchId"`
	FarmerName   string       `json:"farmerName"`
	GrainType    string       `json:"grainType"`
	Quantity     string       `json:"quantity"`
	CurrentStage string       `json:"currentStage"`
	Stages       []StageEntry `json:"stages"`
}

// TxProof is the on-chain credential returned after a successful submission
type TxProof struct {
	TransactionID string
	BlockHeight   uint64
}

// HistoryEntry is one transaction in a batch's ledger history
type HistoryEntry struct {
	TxID      string `json:"txId"`
	Timestamp string `json:"timestamp"`
	IsDelete  bool   `json:"isDelete"`
}

// CreateBatchRequest carries the arguments of the create-batch transaction.
// ImageHash is the fingerprint of the first stage's first evidence item.
type CreateBatchRequest struct {
	BatchCode  string
	FarmerName string
	CropType   string
	Quantity   string
	ImageHash  string
	Location   string
	StageName  string
}

// AddStageRequest carries the arguments of an add-stage transaction
type AddStageRequest struct {
	BatchCode string
	StageName string
	ImageHash string
	Location  string
}
