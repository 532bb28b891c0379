package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestSqliteRepository_AccessRoundTrip(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		_, err := repo.InsertAccess(ctx, AccessEntry{
			EmployeeID:      "emp-001",
			FingerprintHash: "abc123",
			Result:          AccessSuccess,
			IPAddress:       "10.0.0.1",
			UserAgent:       "test-agent",
			AccessTime:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := repo.InsertAccess(ctx, AccessEntry{
		EmployeeID: "emp-002",
		Result:     AccessBlocked,
		AccessTime: base,
	})
	require.NoError(t, err)

	history, err := repo.AccessHistory(ctx, "emp-001")
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Newest first
	assert.True(t, history[0].AccessTime.After(history[2].AccessTime))
	assert.Equal(t, "abc123", history[0].FingerprintHash)
	assert.Equal(t, AccessSuccess, history[0].Result)
}

func TestSqliteRepository_EventDetailsRoundTrip(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()

	_, err := repo.InsertEvent(ctx, Event{
		Type:        EventFingerprintDrift,
		Severity:    SeverityHigh,
		EmployeeID:  "emp-001",
		Description: "Major device fingerprint drift detected (75.0% match)",
		Details: map[string]interface{}{
			"similarity": 0.75,
			"action":     "REQUIRE_MFA",
		},
		IPAddress: "10.0.0.1",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	events, err := repo.EventsSince(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventFingerprintDrift, events[0].Type)
	assert.Equal(t, SeverityHigh, events[0].Severity)
	assert.Equal(t, "REQUIRE_MFA", events[0].Details["action"])
	assert.InDelta(t, 0.75, events[0].Details["similarity"].(float64), 0.0001)
}

func TestSqliteRepository_SummarizeEvents(t *testing.T) {
	repo := setupSqliteRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		_, err := repo.InsertEvent(ctx, Event{
			Type:      EventFingerprintDrift,
			Severity:  SeverityLow,
			CreatedAt: now,
		})
		require.NoError(t, err)
	}
	_, err := repo.InsertEvent(ctx, Event{
		Type:      EventDeviceRegistered,
		Severity:  SeverityMedium,
		CreatedAt: now,
	})
	require.NoError(t, err)

	// Events before the cutoff are excluded
	_, err = repo.InsertEvent(ctx, Event{
		Type:      EventFingerprintMismatch,
		Severity:  SeverityCritical,
		CreatedAt: now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	summary, err := repo.SummarizeEvents(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 2)

	counts := make(map[string]int)
	for _, row := range summary {
		counts[row.EventType] = row.Count
	}
	assert.Equal(t, 2, counts[EventFingerprintDrift])
	assert.Equal(t, 1, counts[EventDeviceRegistered])
}
