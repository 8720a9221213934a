package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"graintrust/internal/models"
)

// PostgresStore implements Store on top of a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgresStore creates a connection pool and verifies connectivity
func NewPostgresStore(ctx context.Context, dsn string, minConns, maxConns int, logger *log.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolCfg.MinConns = int32(minConns)
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Printf("PostgreSQL store initialized (min_conns=%d, max_conns=%d)", minConns, maxConns)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.logger.Println("Closing PostgreSQL connection pool...")
	s.pool.Close()
}

const batchColumns = `id, batch_code, farmer_id, crop_type, quantity, location,
	verification_status, COALESCE(error_message, ''), verified_at, created_at, updated_at`

func scanBatch(row pgx.Row) (*models.Batch, error) {
	var b models.Batch
	err := row.Scan(&b.ID, &b.BatchCode, &b.FarmerID, &b.CropType, &b.Quantity, &b.Location,
		&b.Status, &b.ErrorMessage, &b.VerifiedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan batch row: %w", err)
	}
	return &b, nil
}

// GetBatch fetches a batch by its identifier
func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, batchID)
	return scanBatch(row)
}

// GetBatchByCode fetches a batch by its human-readable code
func (s *PostgresStore) GetBatchByCode(ctx context.Context, batchCode string) (*models.Batch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE batch_code = $1`, batchCode)
	return scanBatch(row)
}

// ListStages returns a batch's stages ordered by their fixed ordinal
func (s *PostgresStore) ListStages(ctx context.Context, batchID string) ([]models.Stage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, batch_id, ordinal, name, status, COALESCE(evidence_urls, '{}'), updated_at
		FROM stages WHERE batch_id = $1 ORDER BY ordinal ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var stages []models.Stage
	for rows.Next() {
		var st models.Stage
		if err := rows.Scan(&st.ID, &st.BatchID, &st.Ordinal, &st.Name, &st.Status, &st.EvidenceURLs, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage row: %w", err)
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// ListUnverifiedBatches returns every batch not yet ledger-verified, for the sweep
func (s *PostgresStore) ListUnverifiedBatches(ctx context.Context) ([]models.Batch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE verification_status <> $1 ORDER BY created_at ASC`, models.StatusLedgerVerified)
	if err != nil {
		return nil, fmt.Errorf("failed to query unverified batches: %w", err)
	}
	defer rows.Close()

	var batches []models.Batch
	for rows.Next() {
		var b models.Batch
		if err := rows.Scan(&b.ID, &b.BatchCode, &b.FarmerID, &b.CropType, &b.Quantity, &b.Location,
			&b.Status, &b.ErrorMessage, &b.VerifiedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetUser fetches a principal from the directory
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(location, '') FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.Location)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user row: %w", err)
	}
	return &u, nil
}

// BeginSubmission check-and-sets the SUBMITTING guard. The UPDATE only
// matches when no live submitter holds the batch, so two processes can never
// both acquire it.
func (s *PostgresStore) BeginSubmission(ctx context.Context, batchID string, staleAfter time.Duration) (bool, error) {
	cutoff := time.Now().Add(-staleAfter)
	tag, err := s.pool.Exec(ctx, `
		UPDATE batches SET verification_status = $2, updated_at = now()
		WHERE id = $1 AND (
			verification_status IN ($3, $4)
			OR (verification_status = $2 AND updated_at < $5)
		)`,
		batchID, models.StatusSubmitting, models.StatusUnverified, models.StatusError, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to acquire submission guard: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateBatchStatus sets the batch status and error message
func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, batchID string, status models.VerificationStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE batches SET verification_status = $2, error_message = NULLIF($3, ''), updated_at = now()
		WHERE id = $1`, batchID, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	return nil
}

// MarkBatchVerified transitions the batch to LEDGER_VERIFIED
func (s *PostgresStore) MarkBatchVerified(ctx context.Context, batchID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE batches SET verification_status = $2, error_message = NULL,
			verified_at = COALESCE(verified_at, now()), updated_at = now()
		WHERE id = $1`, batchID, models.StatusLedgerVerified)
	if err != nil {
		return fmt.Errorf("failed to mark batch verified: %w", err)
	}
	return nil
}

// UpdateStageStatus sets a single stage's verification status
func (s *PostgresStore) UpdateStageStatus(ctx context.Context, stageID string, status models.StageStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stages SET status = $2, updated_at = now() WHERE id = $1`, stageID, status)
	if err != nil {
		return fmt.Errorf("failed to update stage status: %w", err)
	}
	return nil
}

// GetCredential looks up a principal's signing credential
func (s *PostgresStore) GetCredential(ctx context.Context, principalID string) (*models.Credential, error) {
	var c models.Credential
	err := s.pool.QueryRow(ctx, `
		SELECT principal_id, enrollment_id, msp_id, certificate, private_key, created_at
		FROM credentials WHERE principal_id = $1`, principalID).
		Scan(&c.PrincipalID, &c.EnrollmentID, &c.MSPID, &c.Certificate, &c.PrivateKey, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan credential row: %w", err)
	}
	return &c, nil
}

// PutCredential upserts a principal's credential. An upsert keeps the write
// idempotent when two provisioners race for the same principal.
func (s *PostgresStore) PutCredential(ctx context.Context, cred *models.Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (principal_id, enrollment_id, msp_id, certificate, private_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (principal_id) DO NOTHING`,
		cred.PrincipalID, cred.EnrollmentID, cred.MSPID, cred.Certificate, cred.PrivateKey, cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetCertificate fetches a certificate by its identifier
func (s *PostgresStore) GetCertificate(ctx context.Context, certificateID string) (*models.Certificate, error) {
	var c models.Certificate
	err := s.pool.QueryRow(ctx, `
		SELECT certificate_id, batch_id, content_hash, qr_url, payload, issued_at
		FROM certificates WHERE certificate_id = $1`, certificateID).
		Scan(&c.CertificateID, &c.BatchID, &c.ContentHash, &c.QRURL, &c.Payload, &c.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan certificate row: %w", err)
	}
	return &c, nil
}

// GetCertificateByBatch fetches the active certificate for a batch
func (s *PostgresStore) GetCertificateByBatch(ctx context.Context, batchID string) (*models.Certificate, error) {
	var c models.Certificate
	err := s.pool.QueryRow(ctx, `
		SELECT certificate_id, batch_id, content_hash, qr_url, payload, issued_at
		FROM certificates WHERE batch_id = $1`, batchID).
		Scan(&c.CertificateID, &c.BatchID, &c.ContentHash, &c.QRURL, &c.Payload, &c.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan certificate row: %w", err)
	}
	return &c, nil
}

// InsertCertificate persists a new certificate. The unique batch_id index
// makes a concurrent double-issue surface as an insert conflict.
func (s *PostgresStore) InsertCertificate(ctx context.Context, cert *models.Certificate) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO certificates (certificate_id, batch_id, content_hash, qr_url, payload, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (batch_id) DO NOTHING`,
		cert.CertificateID, cert.BatchID, cert.ContentHash, cert.QRURL, cert.Payload, cert.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to insert certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("certificate for batch %s: %w", cert.BatchID, ErrDuplicateCertificate)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
