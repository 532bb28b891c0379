package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpsec/device-trust/pkg/errors"
	"github.com/corpsec/device-trust/pkg/notify"
)

type capturingNotifier struct {
	alerts []notify.Alert
}

func (n *capturingNotifier) Send(ctx context.Context, alert notify.Alert) error {
	n.alerts = append(n.alerts, alert)
	return nil
}

func TestLogger_LogAccess(t *testing.T) {
	repo := NewInMemRepository()
	logger := NewLogger(repo, nil)
	ctx := context.Background()

	err := logger.LogAccess(ctx, AccessEntry{
		EmployeeID:      "emp-001",
		FingerprintHash: "abc123",
		Result:          AccessSuccess,
		IPAddress:       "10.0.0.1",
	})
	require.NoError(t, err)

	history, err := logger.AccessHistory(ctx, "emp-001")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, AccessSuccess, history[0].Result)
	assert.False(t, history[0].AccessTime.IsZero())
}

func TestLogger_LogAccess_Validation(t *testing.T) {
	logger := NewLogger(NewInMemRepository(), nil)
	ctx := context.Background()

	err := logger.LogAccess(ctx, AccessEntry{Result: AccessSuccess})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMissingRequired))

	err = logger.LogAccess(ctx, AccessEntry{EmployeeID: "emp-001", Result: "granted"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestLogger_LogEvent_Validation(t *testing.T) {
	logger := NewLogger(NewInMemRepository(), nil)
	ctx := context.Background()

	err := logger.LogEvent(ctx, Event{Severity: SeverityLow})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMissingRequired))

	err = logger.LogEvent(ctx, Event{Type: EventFingerprintDrift, Severity: "SEVERE"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestLogger_CriticalEventAlerts(t *testing.T) {
	notifier := &capturingNotifier{}
	logger := NewLogger(NewInMemRepository(), notifier)
	ctx := context.Background()

	err := logger.LogEvent(ctx, Event{
		Type:        EventFingerprintMismatch,
		Severity:    SeverityCritical,
		EmployeeID:  "emp-001",
		Description: "Device fingerprint completely changed",
	})
	require.NoError(t, err)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, "emp-001", notifier.alerts[0].EmployeeID)

	// Non-critical events do not alert
	err = logger.LogEvent(ctx, Event{
		Type:     EventFingerprintDrift,
		Severity: SeverityHigh,
	})
	require.NoError(t, err)
	assert.Len(t, notifier.alerts, 1)
}

func TestLogger_AccessHistoryOrder(t *testing.T) {
	logger := NewLogger(NewInMemRepository(), nil)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		err := logger.LogAccess(ctx, AccessEntry{
			EmployeeID: "emp-001",
			Result:     AccessSuccess,
			AccessTime: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	history, err := logger.AccessHistory(ctx, "emp-001")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].AccessTime.After(history[2].AccessTime))
}

func TestLogger_SecuritySummary(t *testing.T) {
	logger := NewLogger(NewInMemRepository(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, logger.LogEvent(ctx, Event{
			Type:     EventFingerprintDrift,
			Severity: SeverityLow,
		}))
	}
	require.NoError(t, logger.LogEvent(ctx, Event{
		Type:     EventDeviceRegistered,
		Severity: SeverityMedium,
	}))

	summary, err := logger.SecuritySummary(ctx, 7)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	counts := make(map[string]int)
	for _, row := range summary {
		counts[row.EventType] = row.Count
	}
	assert.Equal(t, 3, counts[EventFingerprintDrift])
	assert.Equal(t, 1, counts[EventDeviceRegistered])
}
