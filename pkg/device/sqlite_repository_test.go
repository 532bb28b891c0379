package device

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpsec/device-trust/pkg/errors"
	"github.com/corpsec/device-trust/pkg/store"
)

func setupSqliteRepo(t *testing.T) *SqliteRepository {
	t.Helper()
	ctx := context.Background()

	s := store.New(store.DefaultOptions(filepath.Join(t.TempDir(), "devtrust.db")))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() { s.Close() })

	return NewSqliteRepository(s)
}

func TestSqliteRepository_CreateAndGet(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, Registration{
		EmployeeID:      "emp-001",
		FullName:        "Test Employee",
		DeviceID:        "device-1",
		FingerprintHash: "abc123",
		Status:          StatusPending,
		RegistrationIP:  "10.0.0.1",
		UserAgent:       "test-agent",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, ScoreInitial, created.SecurityScore)

	stored, err := repo.GetByEmployeeID(ctx, "emp-001")
	require.NoError(t, err)
	assert.Equal(t, created.ID, stored.ID)
	assert.Equal(t, "abc123", stored.FingerprintHash)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, "10.0.0.1", stored.RegistrationIP)
	assert.Nil(t, stored.ApprovedAt)
	assert.Nil(t, stored.LastLoginAt)

	_, err = repo.GetByEmployeeID(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestSqliteRepository_UniqueConstraints(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()

	registration := Registration{
		EmployeeID:      "emp-001",
		FullName:        "Test Employee",
		DeviceID:        "device-1",
		FingerprintHash: "abc123",
		Status:          StatusPending,
	}
	_, err := repo.Create(ctx, registration)
	require.NoError(t, err)

	// Same employee, different device
	registration.DeviceID = "device-2"
	_, err = repo.Create(ctx, registration)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateRegistration))

	// Same device, different employee
	registration.EmployeeID = "emp-002"
	registration.DeviceID = "device-1"
	_, err = repo.Create(ctx, registration)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateRegistration))
}

func TestSqliteRepository_UpdateStatusGuard(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, Registration{
		EmployeeID:      "emp-001",
		FullName:        "Test Employee",
		DeviceID:        "device-1",
		FingerprintHash: "abc123",
		Status:          StatusPending,
	})
	require.NoError(t, err)

	err = repo.UpdateStatus(ctx, created.ID, []Status{StatusPending}, StatusApproved, "admin-1", "verified")
	require.NoError(t, err)

	stored, err := repo.GetByEmployeeID(ctx, "emp-001")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.Equal(t, "admin-1", stored.ApprovedBy)
	assert.Equal(t, "verified", stored.ApprovalReason)
	require.NotNil(t, stored.ApprovedAt)

	// The from-guard rejects a second transition out of pending
	err = repo.UpdateStatus(ctx, created.ID, []Status{StatusPending}, StatusBlocked, "admin-2", "too late")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
}

func TestSqliteRepository_GetApproved(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, Registration{
		EmployeeID:      "emp-001",
		FullName:        "Test Employee",
		DeviceID:        "device-1",
		FingerprintHash: "abc123",
		Status:          StatusPending,
	})
	require.NoError(t, err)

	// Pending registrations are not returned
	_, err = repo.GetApproved(ctx, "emp-001", "device-1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	require.NoError(t, repo.UpdateStatus(ctx, created.ID, []Status{StatusPending}, StatusApproved, "admin-1", ""))

	stored, err := repo.GetApproved(ctx, "emp-001", "device-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, stored.ID)

	// Exact device pair required
	_, err = repo.GetApproved(ctx, "emp-001", "device-2")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestSqliteRepository_DecaySecurityScore(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, Registration{
		EmployeeID:      "emp-001",
		FullName:        "Test Employee",
		DeviceID:        "device-1",
		FingerprintHash: "abc123",
		Status:          StatusApproved,
	})
	require.NoError(t, err)

	require.NoError(t, repo.DecaySecurityScore(ctx, "emp-001", 25))
	stored, err := repo.GetByEmployeeID(ctx, "emp-001")
	require.NoError(t, err)
	assert.Equal(t, 75, stored.SecurityScore)

	// Score never drops below zero
	require.NoError(t, repo.DecaySecurityScore(ctx, "emp-001", 500))
	stored, err = repo.GetByEmployeeID(ctx, "emp-001")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.SecurityScore)
}

func TestSqliteRepository_FindPending(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seed := []Registration{
		{EmployeeID: "eng-001", FullName: "Engineering One", DeviceID: "d1", FingerprintHash: "h",
			Status: StatusPending, RegistrationIP: "192.168.1.10", RegisteredAt: base.Add(2 * time.Minute)},
		{EmployeeID: "eng-002", FullName: "Engineering Two", DeviceID: "d2", FingerprintHash: "h",
			Status: StatusPending, RegistrationIP: "192.168.1.11", RegisteredAt: base.Add(1 * time.Minute)},
		{EmployeeID: "hr-001", FullName: "HR One", DeviceID: "d3", FingerprintHash: "h",
			Status: StatusPending, RegistrationIP: "10.1.0.5", RegisteredAt: base},
	}
	for _, registration := range seed {
		_, err := repo.Create(ctx, registration)
		require.NoError(t, err)
	}

	// Oldest first across all pending
	all, err := repo.FindPending(ctx, Criteria{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "hr-001", all[0].EmployeeID)
	assert.Equal(t, "eng-001", all[2].EmployeeID)

	// Department substring matches employee id or full name
	eng, err := repo.FindPending(ctx, Criteria{Department: "eng"}, 0)
	require.NoError(t, err)
	assert.Len(t, eng, 2)

	// IP prefix filter
	subnet, err := repo.FindPending(ctx, Criteria{IPRange: "192.168.1."}, 0)
	require.NoError(t, err)
	assert.Len(t, subnet, 2)

	// Limit truncates oldest-first
	limited, err := repo.FindPending(ctx, Criteria{}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "hr-001", limited[0].EmployeeID)

	// Date window
	windowed, err := repo.FindPending(ctx, Criteria{DateFrom: base.Add(90 * time.Second)}, 0)
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "eng-001", windowed[0].EmployeeID)
}

func TestSqliteRepository_CountByStatus(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, Registration{
		EmployeeID: "emp-001", FullName: "A", DeviceID: "d1", FingerprintHash: "h", Status: StatusPending,
	})
	require.NoError(t, err)
	_, err = repo.Create(ctx, Registration{
		EmployeeID: "emp-002", FullName: "B", DeviceID: "d2", FingerprintHash: "h", Status: StatusApproved,
	})
	require.NoError(t, err)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusApproved])
}
