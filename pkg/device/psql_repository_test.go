package device

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/corpsec/device-trust/pkg/errors"
)

const pgTestSchema = `
CREATE TABLE device_registrations (
	id BIGSERIAL PRIMARY KEY,
	employee_id TEXT NOT NULL UNIQUE,
	full_name TEXT NOT NULL,
	device_id TEXT NOT NULL UNIQUE,
	fingerprint_hash TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	security_score INTEGER NOT NULL DEFAULT 100,
	registration_ip TEXT,
	user_agent TEXT,
	approved_by TEXT,
	approved_at TIMESTAMPTZ,
	approval_reason TEXT,
	registered_at TIMESTAMPTZ NOT NULL,
	last_login_at TIMESTAMPTZ,
	last_login_ip TEXT
)`

func setupPostgresRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, pgTestSchema)
	require.NoError(t, err)

	return NewPostgresRepository(pool)
}

func TestPostgresRepository(t *testing.T) {
	repo := setupPostgresRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, Registration{
		EmployeeID:      "emp-001",
		FullName:        "Test Employee",
		DeviceID:        "device-1",
		FingerprintHash: "abc123",
		Status:          StatusPending,
		RegistrationIP:  "10.0.0.1",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	t.Run("DuplicateRegistration", func(t *testing.T) {
		_, err := repo.Create(ctx, Registration{
			EmployeeID:      "emp-001",
			FullName:        "Test Employee",
			DeviceID:        "device-other",
			FingerprintHash: "abc123",
			Status:          StatusPending,
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateRegistration))
	})

	t.Run("GetByEmployeeID", func(t *testing.T) {
		stored, err := repo.GetByEmployeeID(ctx, "emp-001")
		require.NoError(t, err)
		assert.Equal(t, created.ID, stored.ID)
		assert.Equal(t, StatusPending, stored.Status)

		_, err = repo.GetByEmployeeID(ctx, "ghost")
		assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	})

	t.Run("UpdateStatusGuard", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, created.ID, []Status{StatusPending}, StatusApproved, "admin-1", "verified")
		require.NoError(t, err)

		err = repo.UpdateStatus(ctx, created.ID, []Status{StatusPending}, StatusBlocked, "admin-2", "too late")
		assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
	})

	t.Run("GetApproved", func(t *testing.T) {
		stored, err := repo.GetApproved(ctx, "emp-001", "device-1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, stored.ID)
		assert.Equal(t, "admin-1", stored.ApprovedBy)
	})

	t.Run("DecaySecurityScore", func(t *testing.T) {
		require.NoError(t, repo.DecaySecurityScore(ctx, "emp-001", 500))
		stored, err := repo.GetByEmployeeID(ctx, "emp-001")
		require.NoError(t, err)
		assert.Equal(t, 0, stored.SecurityScore)
	})

	t.Run("FindPendingAndCount", func(t *testing.T) {
		_, err := repo.Create(ctx, Registration{
			EmployeeID:      "eng-002",
			FullName:        "Engineering Two",
			DeviceID:        "device-2",
			FingerprintHash: "def456",
			Status:          StatusPending,
			RegistrationIP:  "192.168.1.20",
		})
		require.NoError(t, err)

		pending, err := repo.FindPending(ctx, Criteria{Department: "eng"}, 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "eng-002", pending[0].EmployeeID)

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[StatusPending])
		assert.Equal(t, 1, counts[StatusApproved])
	})
}
