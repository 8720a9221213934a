// Package identity provisions ledger signing identities for principals.
// Registration and enrollment run against an external credential authority;
// issued credentials live in the credential store keyed by principal id.
package identity

import "context"

// RegisterRequest carries the registration arguments for a new principal
type RegisterRequest struct {
	EnrollmentID  string
	PrincipalName string
	Affiliation   string
	Role          string
}

// Enrollment is the credential material returned by the authority
type Enrollment struct {
	Certificate string
	PrivateKey  string
}

// Authority abstracts the credential authority's register-then-enroll
// protocol. Register returns the enrollment secret for the new principal;
// a concurrent registration of the same principal yields a conflict error
// (errdefs.Conflict) that callers resolve by re-checking the store.
type Authority interface {
	Register(ctx context.Context, req *RegisterRequest) (secret string, err error)
	Enroll(ctx context.Context, enrollmentID, secret string) (*Enrollment, error)
}
