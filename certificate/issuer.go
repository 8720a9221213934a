package certificate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"graintrust/completion"
	"graintrust/config"
	"graintrust/internal/errdefs"
	"graintrust/internal/models"
	"graintrust/ledger/client"
	"graintrust/storage/store"
)

// payload is the canonical certificate content. Field order is fixed so the
// serialized form, and therefore the content hash, is stable across issuers.
type payload struct {
	CertificateID string         `json:"certificateId"`
	BatchCode     string         `json:"batchCode"`
	FarmerName    string         `json:"farmerName"`
	CropType      string         `json:"cropType"`
	Quantity      string         `json:"quantity"`
	Stages        []stageSummary `json:"stages"`
	EvidenceTotal int            `json:"evidenceTotal"`
	IssuedAt      string         `json:"issuedAt"`
}

type stageSummary struct {
	Ordinal   int    `json:"ordinal"`
	Name      string `json:"name"`
	ImageHash string `json:"imageHash"`
	Timestamp string `json:"timestamp"`
}

// Issuer creates completion certificates for ledger-verified batches. The
// certificate snapshot is built from the ledger record, not the relational
// rows, so it attests what the ledger actually holds.
type Issuer struct {
	store     store.Store
	ledger    client.LedgerClient
	evaluator *completion.Evaluator
	cfg       config.CertificateConfig
	logger    *log.Logger
}

func NewIssuer(st store.Store, ledger client.LedgerClient, evaluator *completion.Evaluator, cfg config.CertificateConfig, logger *log.Logger) *Issuer {
	return &Issuer{store: st, ledger: ledger, evaluator: evaluator, cfg: cfg, logger: logger}
}

// Issue returns the certificate for a batch, creating one if none exists.
// Issuance is idempotent per batch: repeated calls return the same
// certificate with the same content hash.
func (i *Issuer) Issue(ctx context.Context, batchID string) (*models.Certificate, error) {
	if cert, err := i.store.GetCertificateByBatch(ctx, batchID); err == nil {
		return cert, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up certificate for batch %s: %w", batchID, err)
	}

	batch, err := i.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	record, err := i.ledger.QueryBatch(ctx, batch.BatchCode)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.Transient, err, "failed to query ledger for batch %s", batch.BatchCode)
	}

	stages, err := i.store.ListStages(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages for batch %s: %w", batchID, err)
	}
	counts := make(map[string]int, len(stages))
	for _, s := range stages {
		counts[s.Name] += len(s.EvidenceURLs)
	}
	if result := i.evaluator.EvaluateLedger(record, counts); !result.Complete {
		return nil, errdefs.New(errdefs.Validation,
			"ledger record for batch %s does not satisfy the completion policy", batch.BatchCode)
	}

	certID := fmt.Sprintf("CERT-%s-%s", batch.BatchCode, strings.Split(uuid.New().String(), "-")[0])
	issuedAt := time.Now().UTC()

	content := payload{
		CertificateID: certID,
		BatchCode:     batch.BatchCode,
		FarmerName:    record.FarmerName,
		CropType:      record.GrainType,
		Quantity:      record.Quantity,
		IssuedAt:      issuedAt.Format(time.RFC3339),
	}
	for _, entry := range record.Stages {
		content.Stages = append(content.Stages, stageSummary{
			Ordinal:   models.StageOrdinal(entry.Stage),
			Name:      entry.Stage,
			ImageHash: entry.ImageHash,
			Timestamp: entry.Timestamp,
		})
		content.EvidenceTotal += counts[entry.Stage]
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize certificate for batch %s: %w", batch.BatchCode, err)
	}
	digest := sha256.Sum256(raw)

	cert := &models.Certificate{
		CertificateID: certID,
		BatchID:       batchID,
		ContentHash:   hex.EncodeToString(digest[:]),
		QRURL:         fmt.Sprintf("%s/verify/%s", strings.TrimRight(i.cfg.VerifyBaseURL, "/"), certID),
		Payload:       raw,
		IssuedAt:      issuedAt,
	}
	if err := i.store.InsertCertificate(ctx, cert); err != nil {
		if errors.Is(err, store.ErrDuplicateCertificate) {
			// Lost an issuance race; the stored certificate wins.
			return i.store.GetCertificateByBatch(ctx, batchID)
		}
		return nil, fmt.Errorf("failed to persist certificate for batch %s: %w", batchID, err)
	}
	i.logger.Printf("Issued certificate %s for batch %s", certID, batch.BatchCode)
	return cert, nil
}
