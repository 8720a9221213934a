// Package fingerprint derives stable content identifiers for evidence
// locators. The identifier must be recomputable by any verifier from the
// locator alone, so it is a pure function with no I/O.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	// prefix and digestChars shape the identifier like an IPFS CIDv0
	// ("Qm" + 44 characters), matching the addressing scheme used by
	// downstream evidence storage.
	prefix      = "Qm"
	digestChars = 44
)

// Fingerprint returns the content identifier for an evidence locator:
// "Qm" followed by the first 44 hex characters of the locator's SHA-256
// digest. Total over all strings; the empty locator yields a defined digest.
func Fingerprint(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return prefix + hex.EncodeToString(sum[:])[:digestChars]
}
