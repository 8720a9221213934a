package models

// BatchEvent is the trigger message published by the gateway and consumed by
// the submission engine. Timestamps are strings for easy JSON serialization.
type BatchEvent struct {
	EventID   string `json:"EventID"`
	BatchID   string `json:"BatchID"`
	BatchCode string `json:"BatchCode"`
	Source    string `json:"Source"` // "webhook", "manual", "sweep"
	EmittedAt string `json:"EmittedAt"`
}

// OutcomeEvent reports the result of one pipeline run for a batch.
type OutcomeEvent struct {
	EventID         string `json:"EventID"`
	BatchID         string `json:"BatchID"`
	BatchCode       string `json:"BatchCode"`
	Status          string `json:"Status"` // final VerificationStatus
	StagesCommitted int    `json:"StagesCommitted"`
	CertificateID   string `json:"CertificateID,omitempty"`
	Error           string `json:"Error,omitempty"`
	Warning         string `json:"Warning,omitempty"`
	EmittedAt       string `json:"EmittedAt"`
}
