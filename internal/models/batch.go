package models

import "time"

// VerificationStatus tracks where a batch sits in the ledger-submission
// lifecycle. The relational row is a projection of ledger truth; the status
// only ever moves forward except for ERROR, which a later retry can clear.
type VerificationStatus string

const (
	StatusUnverified     VerificationStatus = "UNVERIFIED"
	StatusSubmitting     VerificationStatus = "SUBMITTING"
	StatusLedgerVerified VerificationStatus = "LEDGER_VERIFIED"
	StatusError          VerificationStatus = "ERROR"
)

// StageStatus is the per-stage projection of ledger progress.
type StageStatus string

const (
	StagePending  StageStatus = "PENDING"
	StageVerified StageStatus = "VERIFIED"
)

// FarmingStages is the fixed, ordered set of production stages every batch
// moves through. Order is significant: ledger transactions must be submitted
// in this order.
var FarmingStages = []string{
	"Land Preparation",
	"Sowing",
	"Germination",
	"Vegetative Growth",
	"Flowering & Pollination",
	"Harvesting",
	"Post-Harvest Processing",
}

// StageOrdinal returns the 1-based position of a stage name, or 0 if the
// name is not one of the fixed stages.
func StageOrdinal(name string) int {
	for i, s := range FarmingStages {
		if s == name {
			return i + 1
		}
	}
	return 0
}

// Batch is a production lot owned by a farmer.
type Batch struct {
	ID           string
	BatchCode    string
	FarmerID     string
	CropType     string
	Quantity     string // descriptor, e.g. "120 acres" or "500 kg"
	Location     string
	Status       VerificationStatus
	ErrorMessage string
	VerifiedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stage is one of the fixed production phases of a batch. EvidenceURLs is
// append-only; the first entry is the one anchored on the ledger.
type Stage struct {
	ID           string
	BatchID      string
	Ordinal      int // 1-based, matches FarmingStages
	Name         string
	Status       StageStatus
	EvidenceURLs []string
	UpdatedAt    time.Time
}

// Evidence is a single image reference with its derived fingerprint.
type Evidence struct {
	Locator     string
	Fingerprint string
	CapturedAt  time.Time
}

// User is a principal from the directory (farmer or administrative actor).
type User struct {
	ID       string
	Name     string
	Email    string
	Location string
}

// Credential is a signing identity bound to a principal, held in the
// credential store. At most one active credential per principal.
type Credential struct {
	PrincipalID  string
	EnrollmentID string
	MSPID        string
	Certificate  string
	PrivateKey   string
	CreatedAt    time.Time
}

// Certificate binds a batch to its ledger-confirmed state at issuance time.
// Immutable once created; re-issuance returns the existing row.
type Certificate struct {
	CertificateID string
	BatchID       string
	ContentHash   string
	QRURL         string
	Payload       []byte // canonical snapshot the content hash covers
	IssuedAt      time.Time
}
