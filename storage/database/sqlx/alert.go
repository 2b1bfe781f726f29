package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/abmarghoub/EduPathInsight/core/notification"
)

const alertColumns = `id, recipient_id, alert_type, title, message, severity, status, metadata,
	created_at, read_at, resolved_at`

type alertRow struct {
	ID          string    `db:"id"`
	RecipientID string    `db:"recipient_id"`
	AlertType   string    `db:"alert_type"`
	Title       string    `db:"title"`
	Message     string    `db:"message"`
	Severity    string    `db:"severity"`
	Status      string    `db:"status"`
	Metadata    null.JSON `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
	ReadAt      null.Time `db:"read_at"`
	ResolvedAt  null.Time `db:"resolved_at"`
}

type alertRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*alertRepository)(nil) // interface compliance check

func NewAlertRepository(db *sqlx.DB) *alertRepository {
	return &alertRepository{db: db}
}

func (repo alertRepository) row(a notification.Alert) (alertRow, error) {
	r := alertRow{
		ID:          a.ID,
		RecipientID: a.RecipientID,
		AlertType:   a.AlertType,
		Title:       a.Title,
		Message:     a.Message,
		Severity:    a.Severity,
		Status:      a.Status,
		CreatedAt:   dbTime(a.CreatedAt),
		ReadAt:      nullTime(a.ReadAt),
		ResolvedAt:  nullTime(a.ResolvedAt),
	}
	if a.Metadata != nil {
		var err error
		if r.Metadata, err = toNullJSON(a.Metadata); err != nil {
			return alertRow{}, err
		}
	}
	return r, nil
}

func (repo alertRepository) model(r alertRow) (notification.Alert, error) {
	a := notification.Alert{
		ID:          r.ID,
		RecipientID: r.RecipientID,
		AlertType:   r.AlertType,
		Title:       r.Title,
		Message:     r.Message,
		Severity:    r.Severity,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt.UTC(),
		ReadAt:      timePtr(r.ReadAt),
		ResolvedAt:  timePtr(r.ResolvedAt),
	}
	if r.Metadata.Valid {
		if err := fromJSON(r.Metadata.JSON, &a.Metadata); err != nil {
			return notification.Alert{}, err
		}
	}
	return a, nil
}

func (repo alertRepository) CreateAlert(ctx context.Context, a notification.Alert) (notification.Alert, error) {
	a.ID = newID()
	r, err := repo.row(a)
	if err != nil {
		return notification.Alert{}, err
	}
	_, err = namedExec(ctx, repo.db, `INSERT INTO alerts (`+alertColumns+`) VALUES (
		:id, :recipient_id, :alert_type, :title, :message, :severity, :status, :metadata,
		:created_at, :read_at, :resolved_at)`, r)
	if err != nil {
		return notification.Alert{}, errors.Wrap(err, "inserting alert")
	}
	return repo.model(r)
}

func (repo alertRepository) GetAlert(ctx context.Context, id string) (notification.Alert, error) {
	if !validID(id) {
		return notification.Alert{}, notification.ErrNotFound
	}
	var r alertRow
	err := getRow(ctx, repo.db, &r, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		return notification.Alert{}, trapNoRowsErr(err, notification.ErrNotFound, "finding alert by ID")
	}
	return repo.model(r)
}

func (repo alertRepository) QueryAlerts(ctx context.Context, filter notification.QueryFilter) ([]notification.Alert, error) {
	var w where
	if filter.RecipientID != "" {
		w.add("recipient_id = ?", filter.RecipientID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		w.add("severity = ?", filter.Severity)
	}

	var rows []alertRow
	query := `SELECT ` + alertColumns + ` FROM alerts` + w.String() + ` ORDER BY created_at DESC, id DESC`
	if err := selectRows(ctx, repo.db, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying alerts")
	}

	alerts := make([]notification.Alert, 0, len(rows))
	for _, r := range rows {
		a, err := repo.model(r)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (repo alertRepository) UpdateAlert(ctx context.Context, a notification.Alert) (notification.Alert, error) {
	r, err := repo.row(a)
	if err != nil {
		return notification.Alert{}, err
	}
	res, err := namedExec(ctx, repo.db, `UPDATE alerts SET
		status = :status, read_at = :read_at, resolved_at = :resolved_at
		WHERE id = :id`, r)
	if err != nil {
		return notification.Alert{}, errors.Wrap(err, "updating alert")
	}
	if err = exactlyOne(res, notification.ErrNotFound); err != nil {
		return notification.Alert{}, err
	}
	return repo.model(r)
}
