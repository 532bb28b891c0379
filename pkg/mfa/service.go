// Package mfa issues and verifies TOTP challenges for registrations
// that drifted out of the approved state. Passing a challenge does not
// re-approve the registration; it only lets the session continue while
// an admin reviews the drift.
package mfa

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/corpsec/device-trust/pkg/errors"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

// Enrollment is the result of setting up TOTP for an employee
type Enrollment struct {
	Secret string `json:"secret"`
	// URL is the otpauth:// provisioning URI for authenticator apps
	URL string `json:"url"`
}

// Service manages per-employee TOTP secrets. Secrets live in process
// memory; a restart requires re-enrollment.
type Service struct {
	issuer string

	mu      sync.RWMutex
	secrets map[string]string
}

// NewService creates an MFA service issuing secrets under the given
// issuer name
func NewService(issuer string) *Service {
	if issuer == "" {
		issuer = "device-trust"
	}
	return &Service{
		issuer:  issuer,
		secrets: make(map[string]string),
	}
}

// Enroll generates and stores a TOTP secret for an employee,
// replacing any previous one
func (s *Service) Enroll(ctx context.Context, employeeID string) (Enrollment, error) {
	if employeeID == "" {
		return Enrollment{}, errors.MissingRequired("employee_id")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: employeeID,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "employeeID", employeeID, "issuer", s.issuer, "error", err)
		return Enrollment{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to generate totp secret")
	}

	s.mu.Lock()
	s.secrets[employeeID] = key.Secret()
	s.mu.Unlock()

	slog.Info("Generated new totp secret", "employeeID", employeeID)
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Verify checks a passcode against the employee's enrolled secret
func (s *Service) Verify(ctx context.Context, employeeID, passcode string) (bool, error) {
	if employeeID == "" {
		return false, errors.MissingRequired("employee_id")
	}
	if passcode == "" {
		return false, errors.MissingRequired("passcode")
	}

	s.mu.RLock()
	secret, enrolled := s.secrets[employeeID]
	s.mu.RUnlock()
	if !enrolled {
		return false, errors.NotFound("mfa enrollment", employeeID)
	}

	valid, err := totp.ValidateCustom(passcode, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to validate totp passcode", "employeeID", employeeID, "error", err)
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to validate passcode")
	}
	return valid, nil
}

// Enrolled reports whether an employee has a TOTP secret on file
func (s *Service) Enrolled(employeeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, enrolled := s.secrets[employeeID]
	return enrolled
}
