package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/abmarghoub/EduPathInsight/core/notification"
)

const notificationColumns = `id, recipient_id, recipient_email, notification_type, title, message,
	channel, status, metadata, created_at, sent_at, read_at`

type notificationRow struct {
	ID             string    `db:"id"`
	RecipientID    string    `db:"recipient_id"`
	RecipientEmail string    `db:"recipient_email"`
	Type           string    `db:"notification_type"`
	Title          string    `db:"title"`
	Message        string    `db:"message"`
	Channel        string    `db:"channel"`
	Status         string    `db:"status"`
	Metadata       null.JSON `db:"metadata"`
	CreatedAt      time.Time `db:"created_at"`
	SentAt         null.Time `db:"sent_at"`
	ReadAt         null.Time `db:"read_at"`
}

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.NotificationRepository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo notificationRepository) row(n notification.Notification) (notificationRow, error) {
	r := notificationRow{
		ID:             n.ID,
		RecipientID:    n.RecipientID,
		RecipientEmail: n.RecipientEmail,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		Channel:        n.Channel,
		Status:         n.Status,
		CreatedAt:      dbTime(n.CreatedAt),
		SentAt:         nullTime(n.SentAt),
		ReadAt:         nullTime(n.ReadAt),
	}
	if n.Metadata != nil {
		var err error
		if r.Metadata, err = toNullJSON(n.Metadata); err != nil {
			return notificationRow{}, err
		}
	}
	return r, nil
}

func (repo notificationRepository) model(r notificationRow) (notification.Notification, error) {
	n := notification.Notification{
		ID:             r.ID,
		RecipientID:    r.RecipientID,
		RecipientEmail: r.RecipientEmail,
		Type:           r.Type,
		Title:          r.Title,
		Message:        r.Message,
		Channel:        r.Channel,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt.UTC(),
		SentAt:         timePtr(r.SentAt),
		ReadAt:         timePtr(r.ReadAt),
	}
	if r.Metadata.Valid {
		if err := fromJSON(r.Metadata.JSON, &n.Metadata); err != nil {
			return notification.Notification{}, err
		}
	}
	return n, nil
}

func (repo notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	n.ID = newID()
	r, err := repo.row(n)
	if err != nil {
		return notification.Notification{}, err
	}
	_, err = namedExec(ctx, repo.db, `INSERT INTO notifications (`+notificationColumns+`) VALUES (
		:id, :recipient_id, :recipient_email, :notification_type, :title, :message,
		:channel, :status, :metadata, :created_at, :sent_at, :read_at)`, r)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return repo.model(r)
}

func (repo notificationRepository) GetNotification(ctx context.Context, id string) (notification.Notification, error) {
	if !validID(id) {
		return notification.Notification{}, notification.ErrNotificationNotFound
	}
	var r notificationRow
	err := getRow(ctx, repo.db, &r, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	if err != nil {
		return notification.Notification{}, trapNoRowsErr(err, notification.ErrNotificationNotFound, "finding notification by ID")
	}
	return repo.model(r)
}

func (repo notificationRepository) QueryNotifications(
	ctx context.Context,
	filter notification.NotificationFilter,
) ([]notification.Notification, error) {
	var w where
	if filter.RecipientID != "" {
		w.add("recipient_id = ?", filter.RecipientID)
	}
	if filter.UnreadOnly {
		w.add("status = ?", notification.DeliverySent)
		w.add("read_at IS NULL")
	}

	var rows []notificationRow
	query := `SELECT ` + notificationColumns + ` FROM notifications` + w.String() + ` ORDER BY created_at DESC, id DESC`
	if err := selectRows(ctx, repo.db, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}

	notifications := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := repo.model(r)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

func (repo notificationRepository) UpdateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	r, err := repo.row(n)
	if err != nil {
		return notification.Notification{}, err
	}
	res, err := namedExec(ctx, repo.db, `UPDATE notifications SET
		status = :status, sent_at = :sent_at, read_at = :read_at
		WHERE id = :id`, r)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "updating notification")
	}
	if err = exactlyOne(res, notification.ErrNotificationNotFound); err != nil {
		return notification.Notification{}, err
	}
	return repo.model(r)
}
