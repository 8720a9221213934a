package store

import (
	"context"
	"errors"
	"time"

	"graintrust/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("record not found")

// ErrDuplicateCertificate is returned by InsertCertificate when a certificate
// already exists for the batch; callers re-fetch and return the existing one.
var ErrDuplicateCertificate = errors.New("certificate already exists for batch")

// Store defines the system-of-record operations used by the gateway and the
// submission engine. The relational rows are a projection of ledger truth;
// all mutations are idempotent set-to-value updates.
type Store interface {
	// --- Read model ---
	GetBatch(ctx context.Context, batchID string) (*models.Batch, error)
	GetBatchByCode(ctx context.Context, batchCode string) (*models.Batch, error)
	ListStages(ctx context.Context, batchID string) ([]models.Stage, error)
	ListUnverifiedBatches(ctx context.Context) ([]models.Batch, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)

	// --- Reconciliation writes ---
	// BeginSubmission check-and-sets the batch into SUBMITTING, returning
	// false when another process already holds the guard. A guard older than
	// staleAfter may be taken over so a crashed submitter cannot wedge the
	// batch.
	BeginSubmission(ctx context.Context, batchID string, staleAfter time.Duration) (bool, error)
	UpdateBatchStatus(ctx context.Context, batchID string, status models.VerificationStatus, errMsg string) error
	MarkBatchVerified(ctx context.Context, batchID string) error
	UpdateStageStatus(ctx context.Context, stageID string, status models.StageStatus) error

	// --- Credential store ---
	GetCredential(ctx context.Context, principalID string) (*models.Credential, error)
	PutCredential(ctx context.Context, cred *models.Credential) error

	// --- Certificates ---
	GetCertificate(ctx context.Context, certificateID string) (*models.Certificate, error)
	GetCertificateByBatch(ctx context.Context, batchID string) (*models.Certificate, error)
	InsertCertificate(ctx context.Context, cert *models.Certificate) error

	// Close releases the underlying connection pool
	Close()
}
