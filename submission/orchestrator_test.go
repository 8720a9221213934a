package submission

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graintrust/completion"
	"graintrust/config"
	"graintrust/fingerprint"
	"graintrust/identity"
	"graintrust/internal/errdefs"
	"graintrust/internal/models"
	"graintrust/ledger/client"
	"graintrust/ledger/types"
	"graintrust/storage/store"
)

// fakeAuthority hands out credentials without a CA
type fakeAuthority struct {
	mu         sync.Mutex
	registered map[string]bool
}

func (f *fakeAuthority) Register(_ context.Context, req *identity.RegisterRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registered == nil {
		f.registered = make(map[string]bool)
	}
	if f.registered[req.EnrollmentID] {
		return "", errdefs.New(errdefs.Conflict, "principal %s already registered", req.EnrollmentID)
	}
	f.registered[req.EnrollmentID] = true
	return "secret-" + req.EnrollmentID, nil
}

func (f *fakeAuthority) Enroll(_ context.Context, enrollmentID, _ string) (*identity.Enrollment, error) {
	return &identity.Enrollment{Certificate: "cert-" + enrollmentID, PrivateKey: "key-" + enrollmentID}, nil
}

// flakyLedger wraps a real ledger and injects failures per call
type flakyLedger struct {
	client.LedgerClient
	mu sync.Mutex

	failAddStage      func(req *types.AddStageRequest) error // returned before delegating
	commitThenFail    bool                                   // delegate first, then return an error
	queryNotFoundOnce bool                                   // first QueryBatch pretends the record is missing
}

func (f *flakyLedger) AddStage(ctx context.Context, req *types.AddStageRequest) (*types.TxProof, error) {
	f.mu.Lock()
	fail := f.failAddStage
	commitThenFail := f.commitThenFail
	f.mu.Unlock()

	if fail != nil {
		if err := fail(req); err != nil {
			return nil, err
		}
	}
	proof, err := f.LedgerClient.AddStage(ctx, req)
	if err == nil && commitThenFail {
		return nil, fmt.Errorf("rpc deadline exceeded after commit")
	}
	return proof, err
}

func (f *flakyLedger) QueryBatch(ctx context.Context, batchCode string) (*types.BatchRecord, error) {
	f.mu.Lock()
	pretendMissing := f.queryNotFoundOnce
	f.queryNotFoundOnce = false
	f.mu.Unlock()

	if pretendMissing {
		return nil, types.ErrNotFound
	}
	return f.LedgerClient.QueryBatch(ctx, batchCode)
}

type testRig struct {
	store        *store.MemoryStore
	ledger       *client.MemoryLedger
	orchestrator *Orchestrator
	batch        *models.Batch
}

func newTestRig(t *testing.T, wrap func(client.LedgerClient) client.LedgerClient) *testRig {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	memStore := store.NewMemoryStore()
	memLedger := client.NewMemoryLedger(logger)

	memStore.SeedUser(&models.User{ID: "farmer-1", Name: "Asha Patel", Location: "Nashik"})
	memStore.PutCredential(context.Background(), &models.Credential{
		PrincipalID: "admin", EnrollmentID: "admin", MSPID: "Org1MSP",
		Certificate: "admin-cert", PrivateKey: "admin-key", CreatedAt: time.Now(),
	})

	batch := &models.Batch{
		ID: "batch-1", BatchCode: "GT-2026-0001", FarmerID: "farmer-1",
		CropType: "Wheat", Quantity: "500 kg", Location: "Nashik",
		Status: models.StatusUnverified, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	var stages []models.Stage
	for i, name := range models.FarmingStages {
		stages = append(stages, models.Stage{
			ID: fmt.Sprintf("stage-%d", i+1), BatchID: batch.ID, Ordinal: i + 1, Name: name,
			Status: models.StagePending,
			EvidenceURLs: []string{
				fmt.Sprintf("https://cdn.example.com/%s/%d/a.jpg", batch.BatchCode, i+1),
				fmt.Sprintf("https://cdn.example.com/%s/%d/b.jpg", batch.BatchCode, i+1),
			},
		})
	}
	memStore.SeedBatch(batch, stages)

	var ledgerClient client.LedgerClient = memLedger
	if wrap != nil {
		ledgerClient = wrap(memLedger)
	}

	policy := config.CompletionPolicy{}
	policy.SetDefaults()
	evaluator := completion.NewEvaluator(policy)

	idCfg := config.IdentityConfig{AuthorityURL: "http://ca.local", AdminPrincipalID: "admin", MSPID: "Org1MSP"}
	provisioner := identity.NewProvisioner(memStore, &fakeAuthority{}, idCfg, logger)
	reconciler := NewReconciler(memStore, logger)
	orchestrator := NewOrchestrator(memStore, ledgerClient, provisioner, evaluator, reconciler, 10*time.Minute, logger)

	return &testRig{store: memStore, ledger: memLedger, orchestrator: orchestrator, batch: batch}
}

func TestRunSubmitsFullSequence(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)

	assert.True(t, outcome.Created)
	assert.False(t, outcome.Resumed)
	assert.False(t, outcome.Skipped)
	assert.Equal(t, 7, outcome.StagesSubmitted)
	assert.Equal(t, 7, outcome.LedgerStageCount)
	assert.Empty(t, outcome.ConsistencyWarning)

	record, err := rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	require.NoError(t, err)
	require.Len(t, record.Stages, 7)
	for i, entry := range record.Stages {
		assert.Equal(t, models.FarmingStages[i], entry.Stage)
		expected := fingerprint.Fingerprint(fmt.Sprintf("https://cdn.example.com/%s/%d/a.jpg", rig.batch.BatchCode, i+1))
		assert.Equal(t, expected, entry.ImageHash)
	}

	batch, err := rig.store.GetBatch(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLedgerVerified, batch.Status)
	assert.NotNil(t, batch.VerifiedAt)

	stages, err := rig.store.ListStages(ctx, rig.batch.ID)
	require.NoError(t, err)
	for _, s := range stages {
		assert.Equal(t, models.StageVerified, s.Status)
	}

	cred, err := rig.store.GetCredential(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, "farmer_farmer-1", cred.EnrollmentID)
}

func TestRunResumesAfterPartialSubmission(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	// A previous run crashed after committing three stages.
	stages, err := rig.store.ListStages(ctx, rig.batch.ID)
	require.NoError(t, err)
	_, err = rig.ledger.CreateBatch(ctx, &types.CreateBatchRequest{
		BatchCode: rig.batch.BatchCode, FarmerName: "Asha Patel", CropType: "Wheat",
		Quantity: "500 kg", ImageHash: fingerprint.Fingerprint(stages[0].EvidenceURLs[0]),
		Location: "Nashik", StageName: stages[0].Name,
	})
	require.NoError(t, err)
	for i := 1; i < 3; i++ {
		_, err = rig.ledger.AddStage(ctx, &types.AddStageRequest{
			BatchCode: rig.batch.BatchCode, StageName: stages[i].Name,
			ImageHash: fingerprint.Fingerprint(stages[i].EvidenceURLs[0]), Location: "Nashik",
		})
		require.NoError(t, err)
	}

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)

	assert.False(t, outcome.Created)
	assert.True(t, outcome.Resumed)
	assert.Equal(t, 4, outcome.StagesSubmitted)
	assert.Equal(t, 7, outcome.LedgerStageCount)

	record, err := rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	require.NoError(t, err)
	require.Len(t, record.Stages, 7)
	for i, entry := range record.Stages {
		assert.Equal(t, models.FarmingStages[i], entry.Stage, "no duplicate or misordered stage")
	}
}

func TestRunLostCreateRaceResumes(t *testing.T) {
	var flaky *flakyLedger
	rig := newTestRig(t, func(base client.LedgerClient) client.LedgerClient {
		flaky = &flakyLedger{LedgerClient: base, queryNotFoundOnce: true}
		return flaky
	})
	ctx := context.Background()

	// Another process already created the record; our first query misses it.
	stages, err := rig.store.ListStages(ctx, rig.batch.ID)
	require.NoError(t, err)
	_, err = rig.ledger.CreateBatch(ctx, &types.CreateBatchRequest{
		BatchCode: rig.batch.BatchCode, FarmerName: "Asha Patel", CropType: "Wheat",
		Quantity: "500 kg", ImageHash: fingerprint.Fingerprint(stages[0].EvidenceURLs[0]),
		Location: "Nashik", StageName: stages[0].Name,
	})
	require.NoError(t, err)

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)

	assert.False(t, outcome.Created)
	assert.True(t, outcome.Resumed)
	assert.Equal(t, 7, outcome.LedgerStageCount)

	record, err := rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	require.NoError(t, err)
	assert.Len(t, record.Stages, 7)
}

func TestRunTransientFailureThenRetry(t *testing.T) {
	var flaky *flakyLedger
	rig := newTestRig(t, func(base client.LedgerClient) client.LedgerClient {
		flaky = &flakyLedger{LedgerClient: base}
		return flaky
	})
	flaky.failAddStage = func(req *types.AddStageRequest) error {
		if req.StageName == "Flowering & Pollination" {
			return fmt.Errorf("node unavailable")
		}
		return nil
	}
	ctx := context.Background()

	_, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsTransient(err))

	batch, err := rig.store.GetBatch(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, batch.Status)
	assert.NotEmpty(t, batch.ErrorMessage)

	record, err := rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	require.NoError(t, err)
	assert.Len(t, record.Stages, 4, "stages before the failure stay committed")

	// Infrastructure recovers; the retry picks up at stage five.
	flaky.mu.Lock()
	flaky.failAddStage = nil
	flaky.mu.Unlock()

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Resumed)
	assert.False(t, outcome.Created)
	assert.Equal(t, 3, outcome.StagesSubmitted)
	assert.Equal(t, 7, outcome.LedgerStageCount)

	batch, err = rig.store.GetBatch(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLedgerVerified, batch.Status)
	assert.Empty(t, batch.ErrorMessage)
}

func TestRunAmbiguousCommitResolvedByRequery(t *testing.T) {
	rig := newTestRig(t, func(base client.LedgerClient) client.LedgerClient {
		return &flakyLedger{LedgerClient: base, commitThenFail: true}
	})
	ctx := context.Background()

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, outcome.LedgerStageCount)

	record, err := rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	require.NoError(t, err)
	assert.Len(t, record.Stages, 7, "every timed-out stage committed exactly once")
}

func TestRunConcurrentTriggersSingleSequence(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	const attempts = 8
	outcomes := make([]*Outcome, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = rig.orchestrator.Run(ctx, rig.batch.ID)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		if outcomes[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created, "exactly one attempt creates the ledger record")

	record, err := rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	require.NoError(t, err)
	require.Len(t, record.Stages, 7)
	for i, entry := range record.Stages {
		assert.Equal(t, models.FarmingStages[i], entry.Stage)
	}
}

func TestRunIncompleteBatchRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	stages, err := rig.store.ListStages(ctx, rig.batch.ID)
	require.NoError(t, err)
	trimmed := append([]models.Stage(nil), stages...)
	trimmed[6].EvidenceURLs = trimmed[6].EvidenceURLs[:1]
	rig.store.SeedBatch(rig.batch, trimmed)

	_, err = rig.orchestrator.Run(ctx, rig.batch.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))

	_, err = rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	assert.ErrorIs(t, err, types.ErrNotFound, "nothing reaches the ledger")
}

func TestRunSkipsWhenGuardHeldElsewhere(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.UpdateBatchStatus(ctx, rig.batch.ID, models.StatusSubmitting, ""))

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)

	_, err = rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRunTakesOverStaleGuard(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	// Simulate a submitter that died mid-run long ago.
	batch := *rig.batch
	batch.Status = models.StatusSubmitting
	batch.UpdatedAt = time.Now().Add(-time.Hour)
	stages, err := rig.store.ListStages(ctx, rig.batch.ID)
	require.NoError(t, err)
	rig.store.SeedBatch(&batch, stages)

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Skipped)
	assert.Equal(t, 7, outcome.LedgerStageCount)
}

func TestRunAlreadyVerifiedIsNoop(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)
	require.False(t, outcome.Skipped)

	again, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, 0, again.StagesSubmitted)

	record, err := rig.ledger.QueryBatch(ctx, rig.batch.BatchCode)
	require.NoError(t, err)
	assert.Len(t, record.Stages, 7)
}

func TestRunConsistencyMismatchSurfaced(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	// The ledger somehow holds more stages than the policy requires.
	stages, err := rig.store.ListStages(ctx, rig.batch.ID)
	require.NoError(t, err)
	_, err = rig.ledger.CreateBatch(ctx, &types.CreateBatchRequest{
		BatchCode: rig.batch.BatchCode, FarmerName: "Asha Patel", CropType: "Wheat",
		Quantity: "500 kg", ImageHash: fingerprint.Fingerprint(stages[0].EvidenceURLs[0]),
		Location: "Nashik", StageName: stages[0].Name,
	})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err = rig.ledger.AddStage(ctx, &types.AddStageRequest{
			BatchCode: rig.batch.BatchCode, StageName: "Harvesting",
			ImageHash: "Qmdeadbeef", Location: "Nashik",
		})
		require.NoError(t, err)
	}

	// The mismatch is a warning for operators, not a failure: the run still
	// completes and the batch still verifies.
	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.ConsistencyWarning)
	assert.Equal(t, 9, outcome.LedgerStageCount)

	batch, err := rig.store.GetBatch(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLedgerVerified, batch.Status)
	assert.Empty(t, batch.ErrorMessage)
}

func TestRunResumeSettlesUnreconciledStages(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	// Create plus two stages committed to the ledger, but the process died
	// before reconciling them: the stage rows are still PENDING.
	stages, err := rig.store.ListStages(ctx, rig.batch.ID)
	require.NoError(t, err)
	_, err = rig.ledger.CreateBatch(ctx, &types.CreateBatchRequest{
		BatchCode: rig.batch.BatchCode, FarmerName: "Asha Patel", CropType: "Wheat",
		Quantity: "500 kg", ImageHash: fingerprint.Fingerprint(stages[0].EvidenceURLs[0]),
		Location: "Nashik", StageName: stages[0].Name,
	})
	require.NoError(t, err)
	for _, stage := range stages[1:3] {
		_, err = rig.ledger.AddStage(ctx, &types.AddStageRequest{
			BatchCode: rig.batch.BatchCode, StageName: stage.Name,
			ImageHash: fingerprint.Fingerprint(stage.EvidenceURLs[0]), Location: "Nashik",
		})
		require.NoError(t, err)
	}

	outcome, err := rig.orchestrator.Run(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Resumed)
	assert.False(t, outcome.Created)
	assert.Equal(t, 4, outcome.StagesSubmitted)

	// The resumed run settles the rows the crashed run left behind, not
	// just the ones it submits itself.
	stages, err = rig.store.ListStages(ctx, rig.batch.ID)
	require.NoError(t, err)
	require.Len(t, stages, 7)
	for _, stage := range stages {
		assert.Equal(t, models.StageVerified, stage.Status, "stage %s", stage.Name)
	}

	batch, err := rig.store.GetBatch(ctx, rig.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLedgerVerified, batch.Status)
}

func TestRunUnknownBatch(t *testing.T) {
	rig := newTestRig(t, nil)

	_, err := rig.orchestrator.Run(context.Background(), "no-such-batch")
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}
