package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/notification"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
	testutil "github.com/abmarghoub/EduPathInsight/tests"
)

func TestAlertRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.PrepareDB(t, core.ServiceNotification)
	repo := sqlxrepos.NewAlertRepository(db)
	t0 := time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)

	newAlert := func(recipient, severity string, at time.Time) notification.Alert {
		return notification.Alert{
			RecipientID: recipient,
			AlertType:   core.EventHighRiskStudent,
			Title:       "High-risk student alert",
			Message:     "Student shows a risk",
			Severity:    severity,
			Status:      notification.StatusUnread,
			Metadata:    map[string]interface{}{"module_id": 4},
			CreatedAt:   at,
		}
	}

	first, err := repo.CreateAlert(ctx, newAlert("s1", core.SeverityHigh, t0))
	require.NoError(t, err)
	second, err := repo.CreateAlert(ctx, newAlert("s1", core.SeverityCritical, t0.Add(time.Minute)))
	require.NoError(t, err)
	_, err = repo.CreateAlert(ctx, newAlert(notification.AdminRecipient, core.SeverityLow, t0))
	require.NoError(t, err)

	got, err := repo.GetAlert(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, float64(4), got.Metadata["module_id"])

	bySeverity, err := repo.QueryAlerts(ctx, notification.QueryFilter{Severity: core.SeverityCritical})
	require.NoError(t, err)
	assert.Equal(t, []notification.Alert{second}, bySeverity)

	now := time.Now().UTC()
	first.Status = notification.StatusRead
	first.ReadAt = &now
	_, err = repo.UpdateAlert(ctx, first)
	require.NoError(t, err)

	unread, err := repo.QueryAlerts(ctx, notification.QueryFilter{RecipientID: "s1", Status: notification.StatusUnread})
	require.NoError(t, err)
	assert.Equal(t, []notification.Alert{second}, unread)

	all, err := repo.QueryAlerts(ctx, notification.QueryFilter{RecipientID: "s1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, notification.StatusRead, all[1].Status)
	require.NotNil(t, all[1].ReadAt)

	_, err = repo.GetAlert(ctx, "4d3b4a8e-5a9e-4f76-9a4e-000000000000")
	assert.Equal(t, notification.ErrNotFound, err)

	first.ID = "4d3b4a8e-5a9e-4f76-9a4e-000000000000"
	_, err = repo.UpdateAlert(ctx, first)
	assert.Equal(t, notification.ErrNotFound, err)
}
