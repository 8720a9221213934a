package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"graintrust/internal/models"
)

// MemoryStore is an in-process Store used for broker-less local runs and
// tests. Semantics mirror the PostgreSQL implementation, including the
// SUBMITTING guard and the unique-certificate-per-batch constraint.
type MemoryStore struct {
	mu           sync.Mutex
	batches      map[string]*models.Batch
	stages       map[string][]models.Stage // keyed by batch id, ordinal order
	users        map[string]*models.User
	credentials  map[string]*models.Credential
	certificates map[string]*models.Certificate // keyed by certificate id
	certByBatch  map[string]string
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:      make(map[string]*models.Batch),
		stages:       make(map[string][]models.Stage),
		users:        make(map[string]*models.User),
		credentials:  make(map[string]*models.Credential),
		certificates: make(map[string]*models.Certificate),
		certByBatch:  make(map[string]string),
	}
}

// SeedUser inserts a principal into the directory
func (s *MemoryStore) SeedUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// SeedBatch inserts a batch and its stages
func (s *MemoryStore) SeedBatch(b *models.Batch, stages []models.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.batches[b.ID] = &cp
	s.stages[b.ID] = append([]models.Stage(nil), stages...)
}

// AppendEvidence appends an evidence locator to a stage, like an upload would
func (s *MemoryStore) AppendEvidence(batchID string, ordinal int, locator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := s.stages[batchID]
	for i := range stages {
		if stages[i].Ordinal == ordinal {
			stages[i].EvidenceURLs = append(stages[i].EvidenceURLs, locator)
			return
		}
	}
}

func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) GetBatchByCode(ctx context.Context, batchCode string) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.BatchCode == batchCode {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListStages(ctx context.Context, batchID string) ([]models.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Stage, len(s.stages[batchID]))
	for i, st := range s.stages[batchID] {
		out[i] = st
		out[i].EvidenceURLs = append([]string(nil), st.EvidenceURLs...)
	}
	return out, nil
}

func (s *MemoryStore) ListUnverifiedBatches(ctx context.Context) ([]models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Batch
	for _, b := range s.batches {
		if b.Status != models.StatusLedgerVerified {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) BeginSubmission(ctx context.Context, batchID string, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return false, nil
	}
	switch b.Status {
	case models.StatusUnverified, models.StatusError:
	case models.StatusSubmitting:
		if time.Since(b.UpdatedAt) < staleAfter {
			return false, nil
		}
	default:
		return false, nil
	}
	b.Status = models.StatusSubmitting
	b.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) UpdateBatchStatus(ctx context.Context, batchID string, status models.VerificationStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("update batch %s: %w", batchID, ErrNotFound)
	}
	b.Status = status
	b.ErrorMessage = errMsg
	b.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkBatchVerified(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("mark batch %s verified: %w", batchID, ErrNotFound)
	}
	b.Status = models.StatusLedgerVerified
	b.ErrorMessage = ""
	if b.VerifiedAt == nil {
		now := time.Now()
		b.VerifiedAt = &now
	}
	b.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateStageStatus(ctx context.Context, stageID string, status models.StageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stages := range s.stages {
		for i := range stages {
			if stages[i].ID == stageID {
				stages[i].Status = status
				stages[i].UpdatedAt = time.Now()
				return nil
			}
		}
	}
	return fmt.Errorf("update stage %s: %w", stageID, ErrNotFound)
}

func (s *MemoryStore) GetCredential(ctx context.Context, principalID string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) PutCredential(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[cred.PrincipalID]; ok {
		return nil // first write wins, matching the postgres upsert
	}
	cp := *cred
	s.credentials[cred.PrincipalID] = &cp
	return nil
}

func (s *MemoryStore) GetCertificate(ctx context.Context, certificateID string) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.certificates[certificateID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetCertificateByBatch(ctx context.Context, batchID string) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.certByBatch[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.certificates[id]
	return &cp, nil
}

func (s *MemoryStore) InsertCertificate(ctx context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certByBatch[cert.BatchID]; ok {
		return fmt.Errorf("certificate for batch %s: %w", cert.BatchID, ErrDuplicateCertificate)
	}
	cp := *cert
	s.certificates[cert.CertificateID] = &cp
	s.certByBatch[cert.BatchID] = cert.CertificateID
	return nil
}

func (s *MemoryStore) Close() {}

var _ Store = (*MemoryStore)(nil)
