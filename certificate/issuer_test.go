package certificate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graintrust/completion"
	"graintrust/config"
	"graintrust/fingerprint"
	"graintrust/internal/errdefs"
	"graintrust/internal/models"
	"graintrust/ledger/client"
	"graintrust/ledger/types"
	"graintrust/storage/store"
)

type issuerRig struct {
	store  *store.MemoryStore
	ledger *client.MemoryLedger
	issuer *Issuer
	batch  *models.Batch
}

func newIssuerRig(t *testing.T, ledgerStages int) *issuerRig {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	memStore := store.NewMemoryStore()
	memLedger := client.NewMemoryLedger(logger)
	ctx := context.Background()

	batch := &models.Batch{
		ID: "batch-1", BatchCode: "GT-2026-0002", FarmerID: "farmer-1",
		CropType: "Rice", Quantity: "300 kg", Location: "Thanjavur",
		Status: models.StatusLedgerVerified,
	}
	var stages []models.Stage
	for i, name := range models.FarmingStages {
		stages = append(stages, models.Stage{
			ID: fmt.Sprintf("stage-%d", i+1), BatchID: batch.ID, Ordinal: i + 1, Name: name,
			Status: models.StageVerified,
			EvidenceURLs: []string{
				fmt.Sprintf("https://cdn.example.com/%s/%d/a.jpg", batch.BatchCode, i+1),
				fmt.Sprintf("https://cdn.example.com/%s/%d/b.jpg", batch.BatchCode, i+1),
			},
		})
	}
	memStore.SeedBatch(batch, stages)

	if ledgerStages > 0 {
		_, err := memLedger.CreateBatch(ctx, &types.CreateBatchRequest{
			BatchCode: batch.BatchCode, FarmerName: "Meena", CropType: "Rice",
			Quantity: "300 kg", ImageHash: fingerprint.Fingerprint(stages[0].EvidenceURLs[0]),
			Location: "Thanjavur", StageName: stages[0].Name,
		})
		require.NoError(t, err)
		for i := 1; i < ledgerStages; i++ {
			_, err = memLedger.AddStage(ctx, &types.AddStageRequest{
				BatchCode: batch.BatchCode, StageName: stages[i].Name,
				ImageHash: fingerprint.Fingerprint(stages[i].EvidenceURLs[0]), Location: "Thanjavur",
			})
			require.NoError(t, err)
		}
	}

	policy := config.CompletionPolicy{}
	policy.SetDefaults()
	issuer := NewIssuer(memStore, memLedger, completion.NewEvaluator(policy),
		config.CertificateConfig{VerifyBaseURL: "https://verify.example.com"}, logger)

	return &issuerRig{store: memStore, ledger: memLedger, issuer: issuer, batch: batch}
}

func TestIssueCreatesCertificate(t *testing.T) {
	rig := newIssuerRig(t, 7)
	ctx := context.Background()

	cert, err := rig.issuer.Issue(ctx, rig.batch.ID)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(cert.CertificateID, "CERT-GT-2026-0002-"))
	assert.Equal(t, rig.batch.ID, cert.BatchID)
	assert.Equal(t, "https://verify.example.com/verify/"+cert.CertificateID, cert.QRURL)

	// Content hash covers exactly the serialized payload
	digest := sha256.Sum256(cert.Payload)
	assert.Equal(t, hex.EncodeToString(digest[:]), cert.ContentHash)

	var content struct {
		CertificateID string `json:"certificateId"`
		BatchCode     string `json:"batchCode"`
		FarmerName    string `json:"farmerName"`
		Stages        []struct {
			Ordinal int    `json:"ordinal"`
			Name    string `json:"name"`
		} `json:"stages"`
		EvidenceTotal int `json:"evidenceTotal"`
	}
	require.NoError(t, json.Unmarshal(cert.Payload, &content))
	assert.Equal(t, cert.CertificateID, content.CertificateID)
	assert.Equal(t, "GT-2026-0002", content.BatchCode)
	assert.Equal(t, "Meena", content.FarmerName)
	require.Len(t, content.Stages, 7)
	for i, s := range content.Stages {
		assert.Equal(t, i+1, s.Ordinal)
		assert.Equal(t, models.FarmingStages[i], s.Name)
	}
	assert.Equal(t, 14, content.EvidenceTotal)
}

func TestIssueIdempotent(t *testing.T) {
	rig := newIssuerRig(t, 7)
	ctx := context.Background()

	first, err := rig.issuer.Issue(ctx, rig.batch.ID)
	require.NoError(t, err)

	second, err := rig.issuer.Issue(ctx, rig.batch.ID)
	require.NoError(t, err)

	assert.Equal(t, first.CertificateID, second.CertificateID)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, first.Payload, second.Payload)
}

func TestIssueRefusesIncompleteLedgerRecord(t *testing.T) {
	rig := newIssuerRig(t, 5)

	_, err := rig.issuer.Issue(context.Background(), rig.batch.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))

	_, err = rig.store.GetCertificateByBatch(context.Background(), rig.batch.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIssueMissingLedgerRecord(t *testing.T) {
	rig := newIssuerRig(t, 0)

	_, err := rig.issuer.Issue(context.Background(), rig.batch.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsTransient(err))
}

// racingStore slips a competing certificate in just before the issuer's own
// insert, forcing the duplicate path.
type racingStore struct {
	store.Store
	competitor *models.Certificate
	raced      bool
}

func (r *racingStore) InsertCertificate(ctx context.Context, cert *models.Certificate) error {
	if !r.raced {
		r.raced = true
		if err := r.Store.InsertCertificate(ctx, r.competitor); err != nil {
			return err
		}
	}
	return r.Store.InsertCertificate(ctx, cert)
}

func TestIssueLosesInsertRace(t *testing.T) {
	rig := newIssuerRig(t, 7)
	ctx := context.Background()

	racing := &racingStore{
		Store: rig.store,
		competitor: &models.Certificate{
			CertificateID: "CERT-GT-2026-0002-racer", BatchID: rig.batch.ID,
			ContentHash: "abc", QRURL: "https://verify.example.com/verify/CERT-GT-2026-0002-racer",
			Payload: []byte(`{}`), IssuedAt: time.Now(),
		},
	}
	policy := config.CompletionPolicy{}
	policy.SetDefaults()
	issuer := NewIssuer(racing, rig.ledger, completion.NewEvaluator(policy),
		config.CertificateConfig{VerifyBaseURL: "https://verify.example.com"}, log.New(io.Discard, "", 0))

	cert, err := issuer.Issue(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "CERT-GT-2026-0002-racer", cert.CertificateID, "the stored certificate wins the race")
}
