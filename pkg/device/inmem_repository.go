package device

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corpsec/device-trust/pkg/errors"
)

// InMemRepository is an in-memory Repository used by unit tests and the
// quick-start server. It enforces the same unique constraints as the
// relational backends.
type InMemRepository struct {
	mu            sync.RWMutex
	nextID        int64
	registrations map[int64]*Registration
	byEmployee    map[string]int64
	byDevice      map[string]int64
}

// NewInMemRepository creates an empty in-memory device repository
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		nextID:        1,
		registrations: make(map[int64]*Registration),
		byEmployee:    make(map[string]int64),
		byDevice:      make(map[string]int64),
	}
}

// Create inserts a new registration
func (r *InMemRepository) Create(ctx context.Context, registration Registration) (Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmployee[registration.EmployeeID]; exists {
		return Registration{}, errors.New(errors.ErrCodeDuplicateRegistration,
			"employee or device already registered")
	}
	if _, exists := r.byDevice[registration.DeviceID]; exists {
		return Registration{}, errors.New(errors.ErrCodeDuplicateRegistration,
			"employee or device already registered")
	}

	if registration.RegisteredAt.IsZero() {
		registration.RegisteredAt = time.Now().UTC()
	}
	if registration.SecurityScore == 0 {
		registration.SecurityScore = ScoreInitial
	}
	registration.ID = r.nextID
	r.nextID++

	stored := registration
	r.registrations[registration.ID] = &stored
	r.byEmployee[registration.EmployeeID] = registration.ID
	r.byDevice[registration.DeviceID] = registration.ID
	return registration, nil
}

// GetByEmployeeID retrieves the registration for an employee
func (r *InMemRepository) GetByEmployeeID(ctx context.Context, employeeID string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmployee[employeeID]
	if !exists {
		return Registration{}, errors.NotFound("registration", employeeID)
	}
	return *r.registrations[id], nil
}

// GetApproved retrieves an approved registration for the exact pair
func (r *InMemRepository) GetApproved(ctx context.Context, employeeID, deviceID string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmployee[employeeID]
	if !exists {
		return Registration{}, errors.NotFound("approved registration", employeeID)
	}
	registration := r.registrations[id]
	if registration.DeviceID != deviceID || registration.Status != StatusApproved {
		return Registration{}, errors.NotFound("approved registration", employeeID)
	}
	return *registration, nil
}

// UpdateStatus moves a registration between statuses with a guard on
// the current status
func (r *InMemRepository) UpdateStatus(ctx context.Context, id int64, from []Status, to Status, adminID, reason string) error {
	if len(from) == 0 {
		return errors.InvalidInput("from", "at least one current status is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registration, exists := r.registrations[id]
	if !exists || !statusIn(registration.Status, from) {
		return errors.Newf(errors.ErrCodeConflict, "device %d not found or already processed", id)
	}

	now := time.Now().UTC()
	registration.Status = to
	registration.ApprovedBy = adminID
	registration.ApprovedAt = &now
	registration.ApprovalReason = reason
	return nil
}

// UpdateLastLogin records the time and IP of the latest successful login
func (r *InMemRepository) UpdateLastLogin(ctx context.Context, employeeID string, at time.Time, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.byEmployee[employeeID]
	if !exists {
		return nil
	}
	registration := r.registrations[id]
	registration.LastLoginAt = &at
	registration.LastLoginIP = ip
	return nil
}

// DecaySecurityScore lowers the score by penalty, floored at 0
func (r *InMemRepository) DecaySecurityScore(ctx context.Context, employeeID string, penalty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.byEmployee[employeeID]
	if !exists {
		return nil
	}
	registration := r.registrations[id]
	registration.SecurityScore -= penalty
	if registration.SecurityScore < 0 {
		registration.SecurityScore = 0
	}
	return nil
}

// FindPending returns pending registrations matching the criteria,
// oldest first
func (r *InMemRepository) FindPending(ctx context.Context, criteria Criteria, limit int) ([]Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Registration
	for _, registration := range r.registrations {
		if registration.Status != StatusPending {
			continue
		}
		if !matchesCriteria(*registration, criteria) {
			continue
		}
		matched = append(matched, *registration)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].RegisteredAt.Before(matched[j].RegisteredAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// CountByStatus returns the number of registrations per status
func (r *InMemRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int)
	for _, registration := range r.registrations {
		counts[registration.Status]++
	}
	return counts, nil
}

func matchesCriteria(registration Registration, criteria Criteria) bool {
	if criteria.Department != "" {
		if !strings.Contains(registration.FullName, criteria.Department) &&
			!strings.Contains(registration.EmployeeID, criteria.Department) {
			return false
		}
	}
	if !criteria.DateFrom.IsZero() && registration.RegisteredAt.Before(criteria.DateFrom) {
		return false
	}
	if !criteria.DateTo.IsZero() && registration.RegisteredAt.After(criteria.DateTo) {
		return false
	}
	if criteria.IPRange != "" && !strings.HasPrefix(registration.RegistrationIP, criteria.IPRange) {
		return false
	}
	return true
}

func statusIn(status Status, set []Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
