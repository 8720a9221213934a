package completion

import (
	"graintrust/config"
	"graintrust/internal/models"
	"graintrust/ledger/types"
)

// StageDeficiency describes one stage that keeps a batch from completion,
// either because no row exists for its ordinal or because it carries too
// little evidence.
type StageDeficiency struct {
	Ordinal int    `json:"Ordinal"`
	Name    string `json:"Name"`
	Count   int    `json:"Count"`
	Deficit int    `json:"Deficit"`
}

// Result is the outcome of evaluating a batch against the completion policy
type Result struct {
	Complete bool              `json:"Complete"`
	Missing  []StageDeficiency `json:"Missing,omitempty"`
}

// Evaluator decides whether a batch satisfies the completion policy: every
// required stage present with at least the minimum evidence count.
type Evaluator struct {
	policy config.CompletionPolicy
}

func NewEvaluator(policy config.CompletionPolicy) *Evaluator {
	return &Evaluator{policy: policy}
}

func (e *Evaluator) Policy() config.CompletionPolicy {
	return e.policy
}

// Evaluate checks the relational view of a batch's stages. Stages beyond
// the required count are ignored; a stage recorded twice counts once, with
// its evidence pooled.
func (e *Evaluator) Evaluate(stages []models.Stage) Result {
	counts := make(map[int]int, e.policy.RequiredStages)
	for _, stage := range stages {
		if stage.Ordinal < 1 || stage.Ordinal > e.policy.RequiredStages {
			continue
		}
		counts[stage.Ordinal] += len(stage.EvidenceURLs)
	}
	return e.resolve(counts, func(ordinal int) string {
		return stageName(ordinal)
	})
}

// EvaluateLedger applies the same predicate to the ledger's view of a batch.
// The ledger records one evidence fingerprint per stage entry, so evidence
// counts per stage come from the relational store alongside the record.
func (e *Evaluator) EvaluateLedger(record *types.BatchRecord, evidenceCounts map[string]int) Result {
	counts := make(map[int]int, e.policy.RequiredStages)
	for _, entry := range record.Stages {
		ordinal := models.StageOrdinal(entry.Stage)
		if ordinal < 1 || ordinal > e.policy.RequiredStages {
			continue
		}
		if counts[ordinal] == 0 {
			counts[ordinal] = evidenceCounts[entry.Stage]
		}
	}
	return e.resolve(counts, func(ordinal int) string {
		return stageName(ordinal)
	})
}

func (e *Evaluator) resolve(counts map[int]int, nameOf func(int) string) Result {
	var missing []StageDeficiency
	for ordinal := 1; ordinal <= e.policy.RequiredStages; ordinal++ {
		count := counts[ordinal]
		if count >= e.policy.MinEvidencePerStage {
			continue
		}
		missing = append(missing, StageDeficiency{
			Ordinal: ordinal,
			Name:    nameOf(ordinal),
			Count:   count,
			Deficit: e.policy.MinEvidencePerStage - count,
		})
	}
	return Result{Complete: len(missing) == 0, Missing: missing}
}

func stageName(ordinal int) string {
	if ordinal >= 1 && ordinal <= len(models.FarmingStages) {
		return models.FarmingStages[ordinal-1]
	}
	return ""
}
