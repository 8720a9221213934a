package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graintrust/completion"
	"graintrust/config"
	core "graintrust/gateway/service/core"
	"graintrust/internal/messaging/producer"
	"graintrust/internal/models"
	"graintrust/ledger/client"
	"graintrust/ledger/types"
	"graintrust/storage/store"
)

type handlerRig struct {
	mux      *http.ServeMux
	store    *store.MemoryStore
	producer *producer.MockProducer
	ledger   *client.MemoryLedger
	batch    *models.Batch
}

func newHandlerRig(t *testing.T, evidencePerStage int) *handlerRig {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	memStore := store.NewMemoryStore()
	mockProducer := producer.NewMockProducer()
	memLedger := client.NewMemoryLedger(logger)

	batch := &models.Batch{
		ID: "batch-1", BatchCode: "GT-2026-0003", FarmerID: "farmer-1",
		CropType: "Maize", Quantity: "200 kg", Location: "Pune",
		Status: models.StatusUnverified, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	var stages []models.Stage
	for i, name := range models.FarmingStages {
		var urls []string
		for j := 0; j < evidencePerStage; j++ {
			urls = append(urls, fmt.Sprintf("https://cdn.example.com/%d/%d.jpg", i+1, j))
		}
		stages = append(stages, models.Stage{
			ID: fmt.Sprintf("stage-%d", i+1), BatchID: batch.ID, Ordinal: i + 1,
			Name: name, Status: models.StagePending, EvidenceURLs: urls,
		})
	}
	memStore.SeedUser(&models.User{ID: "farmer-1", Name: "Asha"})
	memStore.SeedBatch(batch, stages)

	policy := config.CompletionPolicy{}
	policy.SetDefaults()
	svc := core.NewService(memStore, mockProducer, completion.NewEvaluator(policy), memLedger, logger)
	handler := NewBatchHandler(svc, logger)

	mux := http.NewServeMux()
	handler.Register(mux, "/health")

	return &handlerRig{mux: mux, store: memStore, producer: mockProducer, ledger: memLedger, batch: batch}
}

func (r *handlerRig) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestWebhookTriggersCompleteBatch(t *testing.T) {
	rig := newHandlerRig(t, 2)

	rec := rig.do(t, http.MethodPost, "/webhook/batch-updated", map[string]string{"batch_id": "batch-1"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, true, payload["accepted"])
	assert.NotEmpty(t, payload["event_id"])

	triggers := rig.producer.Triggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, "batch-1", triggers[0].BatchID)
	assert.Equal(t, "webhook", triggers[0].Source)
}

func TestWebhookDeclinesIncompleteBatch(t *testing.T) {
	rig := newHandlerRig(t, 1)

	rec := rig.do(t, http.MethodPost, "/webhook/batch-updated", map[string]string{"batch_id": "batch-1"})

	// Declined triggers are a definitive 200, never an ambiguous 202
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, false, payload["accepted"])
	assert.NotEmpty(t, payload["missing"])
	assert.Empty(t, rig.producer.Triggers())
}

func TestWebhookValidation(t *testing.T) {
	rig := newHandlerRig(t, 2)

	rec := rig.do(t, http.MethodPost, "/webhook/batch-updated", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook/batch-updated", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	rig.mux.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook/batch-updated", bytes.NewReader([]byte(`{"batch_id":"x"}`)))
	rec3 := httptest.NewRecorder()
	rig.mux.ServeHTTP(rec3, req)
	assert.Equal(t, http.StatusBadRequest, rec3.Code, "missing content type")
}

func TestManualProcessUnknownBatch(t *testing.T) {
	rig := newHandlerRig(t, 2)

	rec := rig.do(t, http.MethodPost, "/v1/batches/no-such/process", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualProcessAlreadyVerified(t *testing.T) {
	rig := newHandlerRig(t, 2)
	require.NoError(t, rig.store.MarkBatchVerified(context.Background(), "batch-1"))

	rec := rig.do(t, http.MethodPost, "/v1/batches/batch-1/process", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, false, payload["accepted"])
	assert.Contains(t, payload["reason"], "already")
	assert.Empty(t, rig.producer.Triggers())
}

func TestBatchStatus(t *testing.T) {
	rig := newHandlerRig(t, 2)

	rec := rig.do(t, http.MethodGet, "/v1/batches/batch-1/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, "GT-2026-0003", payload["batch_code"])
	assert.Equal(t, string(models.StatusUnverified), payload["status"])
	assert.Equal(t, true, payload["complete"])
	stages, ok := payload["stages"].([]any)
	require.True(t, ok)
	assert.Len(t, stages, 7)
}

func TestBatchStatusNotFound(t *testing.T) {
	rig := newHandlerRig(t, 2)

	rec := rig.do(t, http.MethodGet, "/v1/batches/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchHistory(t *testing.T) {
	rig := newHandlerRig(t, 2)
	ctx := context.Background()

	_, err := rig.ledger.CreateBatch(ctx, &types.CreateBatchRequest{
		BatchCode: rig.batch.BatchCode, FarmerName: "Asha", CropType: "Maize",
		Quantity: "200 kg", ImageHash: "Qmabc", Location: "Pune", StageName: "Land Preparation",
	})
	require.NoError(t, err)
	_, err = rig.ledger.AddStage(ctx, &types.AddStageRequest{
		BatchCode: rig.batch.BatchCode, StageName: "Sowing", ImageHash: "Qmdef", Location: "Pune",
	})
	require.NoError(t, err)

	rec := rig.do(t, http.MethodGet, "/v1/batches/batch-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decode(t, rec)
	assert.Equal(t, rig.batch.BatchCode, payload["batch_code"])
	entries, ok := payload["entries"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 2)
}

func TestBatchHistoryUnknownBatch(t *testing.T) {
	rig := newHandlerRig(t, 2)

	rec := rig.do(t, http.MethodGet, "/v1/batches/no-such/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessAllSweep(t *testing.T) {
	rig := newHandlerRig(t, 2)

	// Second batch not yet complete
	incomplete := &models.Batch{
		ID: "batch-2", BatchCode: "GT-2026-0004", FarmerID: "farmer-1",
		CropType: "Maize", Quantity: "100 kg", Status: models.StatusUnverified,
	}
	rig.store.SeedBatch(incomplete, []models.Stage{
		{ID: "b2-s1", BatchID: "batch-2", Ordinal: 1, Name: models.FarmingStages[0],
			Status: models.StagePending, EvidenceURLs: []string{"https://cdn.example.com/x.jpg"}},
	})

	rec := rig.do(t, http.MethodPost, "/v1/batches/process-all", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, float64(2), payload["scanned"])
	assert.Equal(t, float64(1), payload["triggered"])
	assert.Equal(t, float64(1), payload["incomplete"])

	triggers := rig.producer.Triggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, "batch-1", triggers[0].BatchID)
	assert.Equal(t, "sweep", triggers[0].Source)
}

func TestCertificateLookup(t *testing.T) {
	rig := newHandlerRig(t, 2)
	cert := &models.Certificate{
		CertificateID: "CERT-GT-2026-0003-ab12cd34", BatchID: "batch-1",
		ContentHash: "deadbeef", QRURL: "https://verify.example.com/verify/CERT-GT-2026-0003-ab12cd34",
		Payload: []byte(`{"batchCode":"GT-2026-0003"}`), IssuedAt: time.Now().UTC(),
	}
	require.NoError(t, rig.store.InsertCertificate(context.Background(), cert))

	rec := rig.do(t, http.MethodGet, "/v1/certificates/CERT-GT-2026-0003-ab12cd34", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, cert.CertificateID, payload["certificate_id"])
	assert.Equal(t, "deadbeef", payload["content_hash"])
	inner, ok := payload["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "GT-2026-0003", inner["batchCode"])

	missing := rig.do(t, http.MethodGet, "/v1/certificates/CERT-nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestHealthCheck(t *testing.T) {
	rig := newHandlerRig(t, 2)

	rec := rig.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, "healthy", payload["status"])
}
