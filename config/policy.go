package config

import "fmt"

// CompletionPolicy defines when a batch counts as complete: how many fixed
// stages it must have and the minimum evidence images per stage. These are
// deployment configuration, not hardcoded policy, but the defaults match the
// observed production values (7 stages, 2 images each).
type CompletionPolicy struct {
	RequiredStages      int `yaml:"required_stages"`
	MinEvidencePerStage int `yaml:"min_evidence_per_stage"`
}

// SetDefaults sets the observed default policy values
func (c *CompletionPolicy) SetDefaults() {
	if c.RequiredStages <= 0 {
		c.RequiredStages = 7
	}
	if c.MinEvidencePerStage <= 0 {
		c.MinEvidencePerStage = 2
	}
}

// Validate validates the completion policy
func (c *CompletionPolicy) Validate() error {
	if c.RequiredStages <= 0 {
		return fmt.Errorf("policy required_stages must be positive")
	}
	if c.MinEvidencePerStage <= 0 {
		return fmt.Errorf("policy min_evidence_per_stage must be positive")
	}
	return nil
}
