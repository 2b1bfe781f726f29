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

func TestNotificationRepository(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewNotificationRepository(testutil.PrepareDB(t, core.ServiceNotification))
	t0 := time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)

	newNotification := func(recipient, status string, at time.Time) notification.Notification {
		return notification.Notification{
			RecipientID:    recipient,
			RecipientEmail: recipient + "@example.com",
			Type:           core.EventEnrollmentApproved,
			Title:          "Enrollment approved",
			Message:        "Your enrollment in module ALG has been approved.",
			Channel:        notification.ChannelAll,
			Status:         status,
			Metadata:       map[string]interface{}{"module_id": 20},
			CreatedAt:      at,
		}
	}

	sent, err := repo.CreateNotification(ctx, newNotification("s1", notification.DeliverySent, t0))
	require.NoError(t, err)
	newer, err := repo.CreateNotification(ctx, newNotification("s1", notification.DeliverySent, t0.Add(time.Minute)))
	require.NoError(t, err)
	_, err = repo.CreateNotification(ctx, newNotification("s1", notification.DeliveryFailed, t0))
	require.NoError(t, err)
	_, err = repo.CreateNotification(ctx, newNotification("s2", notification.DeliverySent, t0))
	require.NoError(t, err)

	got, err := repo.GetNotification(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
	assert.Equal(t, float64(20), got.Metadata["module_id"])

	all, err := repo.QueryNotifications(ctx, notification.NotificationFilter{RecipientID: "s1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, newer.ID, all[0].ID)

	readAt := time.Now().UTC()
	sent.ReadAt = &readAt
	_, err = repo.UpdateNotification(ctx, sent)
	require.NoError(t, err)

	unread, err := repo.QueryNotifications(ctx, notification.NotificationFilter{RecipientID: "s1", UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []notification.Notification{newer}, unread)

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetNotification(ctx, "nope")
		assert.Equal(t, notification.ErrNotificationNotFound, err)

		missing := newNotification("s1", notification.DeliverySent, t0)
		missing.ID = "00000000-0000-0000-0000-000000000000"
		_, err = repo.UpdateNotification(ctx, missing)
		assert.Equal(t, notification.ErrNotificationNotFound, err)
	})
}
