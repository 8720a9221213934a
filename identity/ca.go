package identity

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"graintrust/config"
	"graintrust/internal/errdefs"
)

// CAClient talks to the credential authority's REST API
type CAClient struct {
	rest   *resty.Client
	logger *log.Logger
}

// NewCAClient creates a REST client for the configured credential authority
func NewCAClient(cfg config.IdentityConfig, logger *log.Logger) *CAClient {
	rest := resty.New().
		SetBaseURL(cfg.AuthorityURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	if cfg.TLSSkipVerify {
		rest.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
		logger.Println("Warning: credential authority TLS verification disabled")
	}
	return &CAClient{rest: rest, logger: logger}
}

type registerResponse struct {
	Secret string `json:"secret"`
}

type enrollResponse struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
}

type caError struct {
	Error string `json:"error"`
}

// Register registers a new principal with the authority and returns the
// enrollment secret. An already-registered principal maps to a conflict.
func (c *CAClient) Register(ctx context.Context, req *RegisterRequest) (string, error) {
	var out registerResponse
	var caErr caError
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"enrollment_id": req.EnrollmentID,
			"name":          req.PrincipalName,
			"affiliation":   req.Affiliation,
			"role":          req.Role,
		}).
		SetResult(&out).
		SetError(&caErr).
		Post("/register")
	if err != nil {
		return "", errdefs.Wrap(errdefs.Transient, err, "credential authority unreachable")
	}
	switch {
	case resp.StatusCode() == http.StatusConflict:
		return "", errdefs.New(errdefs.Conflict, "principal %s already registered", req.EnrollmentID)
	case resp.StatusCode() >= 500:
		return "", errdefs.New(errdefs.Transient, "credential authority register failed: %s (status %d)", caErr.Error, resp.StatusCode())
	case resp.StatusCode() >= 400:
		return "", errdefs.New(errdefs.Validation, "credential authority rejected registration: %s (status %d)", caErr.Error, resp.StatusCode())
	}
	if out.Secret == "" {
		return "", errdefs.New(errdefs.Transient, "credential authority returned empty enrollment secret")
	}
	return out.Secret, nil
}

// Enroll exchanges an enrollment id and secret for signed credential material
func (c *CAClient) Enroll(ctx context.Context, enrollmentID, secret string) (*Enrollment, error) {
	var out enrollResponse
	var caErr caError
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"enrollment_id":     enrollmentID,
			"enrollment_secret": secret,
		}).
		SetResult(&out).
		SetError(&caErr).
		Post("/enroll")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.Transient, err, "credential authority unreachable")
	}
	switch {
	case resp.StatusCode() >= 500:
		return nil, errdefs.New(errdefs.Transient, "credential authority enroll failed: %s (status %d)", caErr.Error, resp.StatusCode())
	case resp.StatusCode() >= 400:
		return nil, errdefs.New(errdefs.Validation, "credential authority rejected enrollment: %s (status %d)", caErr.Error, resp.StatusCode())
	}
	if out.Certificate == "" || out.PrivateKey == "" {
		return nil, fmt.Errorf("credential authority returned incomplete enrollment for %s", enrollmentID)
	}
	return &Enrollment{Certificate: out.Certificate, PrivateKey: out.PrivateKey}, nil
}

var _ Authority = (*CAClient)(nil)
