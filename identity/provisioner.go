package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"graintrust/config"
	"graintrust/internal/errdefs"
	"graintrust/internal/locks"
	"graintrust/internal/models"
	"graintrust/storage/store"
)

// Provisioner lazily creates signing credentials for farmers. A farmer's
// first batch submission triggers register+enroll against the credential
// authority; every later submission reuses the stored credential.
type Provisioner struct {
	store     store.Store
	authority Authority
	cfg       config.IdentityConfig
	locks     *locks.KeyedMutex
	logger    *log.Logger
}

func NewProvisioner(st store.Store, authority Authority, cfg config.IdentityConfig, logger *log.Logger) *Provisioner {
	return &Provisioner{
		store:     st,
		authority: authority,
		cfg:       cfg,
		locks:     locks.NewKeyedMutex(),
		logger:    logger,
	}
}

// EnsureIdentity returns the credential for principalID, enrolling it with
// the credential authority first if no credential is stored yet. Safe to
// call concurrently for the same principal.
func (p *Provisioner) EnsureIdentity(ctx context.Context, principalID, principalName string) (*models.Credential, error) {
	if cred, err := p.store.GetCredential(ctx, principalID); err == nil {
		return cred, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up credential for %s: %w", principalID, err)
	}

	p.locks.Lock("principal:" + principalID)
	defer p.locks.Unlock("principal:" + principalID)

	// Another goroutine may have enrolled while we waited on the lock.
	if cred, err := p.store.GetCredential(ctx, principalID); err == nil {
		return cred, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up credential for %s: %w", principalID, err)
	}

	// Registration requires the admin identity to have been enrolled out of
	// band (see cmd/enrolladmin). Fail fast with a configuration error when
	// the bootstrap step was skipped.
	if _, err := p.store.GetCredential(ctx, p.cfg.AdminPrincipalID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errdefs.New(errdefs.Configuration,
				"admin credential %s not enrolled, run enrolladmin first", p.cfg.AdminPrincipalID)
		}
		return nil, fmt.Errorf("failed to look up admin credential: %w", err)
	}

	enrollmentID := "farmer_" + principalID
	p.logger.Printf("Enrolling new identity %s for principal %s", enrollmentID, principalID)

	secret, err := p.authority.Register(ctx, &RegisterRequest{
		EnrollmentID:  enrollmentID,
		PrincipalName: principalName,
		Affiliation:   p.cfg.Affiliation,
		Role:          "client",
	})
	if err != nil {
		if errdefs.IsConflict(err) {
			// Registered by another process. Its enrollment may still be in
			// flight, so poll the store briefly before giving up.
			if cred, ok := p.awaitCredential(ctx, principalID); ok {
				return cred, nil
			}
		}
		return nil, fmt.Errorf("failed to register principal %s: %w", principalID, err)
	}

	enrollment, err := p.authority.Enroll(ctx, enrollmentID, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to enroll principal %s: %w", principalID, err)
	}

	cred := &models.Credential{
		PrincipalID:  principalID,
		EnrollmentID: enrollmentID,
		MSPID:        p.cfg.MSPID,
		Certificate:  enrollment.Certificate,
		PrivateKey:   enrollment.PrivateKey,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.store.PutCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to persist credential for %s: %w", principalID, err)
	}
	// PutCredential is first-write-wins, so read back the surviving row.
	stored, err := p.store.GetCredential(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read credential for %s: %w", principalID, err)
	}
	return stored, nil
}

func (p *Provisioner) awaitCredential(ctx context.Context, principalID string) (*models.Credential, bool) {
	for i := 0; i < 5; i++ {
		if cred, err := p.store.GetCredential(ctx, principalID); err == nil {
			return cred, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, false
}
