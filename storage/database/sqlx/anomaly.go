package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/abmarghoub/EduPathInsight/core/anomaly"
)

const anomalyColumns = `id, student_id, module_id, anomaly_type, title, description, severity, status,
	metadata, detected_at, acknowledged_at, resolved_at`

type anomalyRow struct {
	ID             string    `db:"id"`
	StudentID      string    `db:"student_id"`
	ModuleID       int64     `db:"module_id"`
	Type           string    `db:"anomaly_type"`
	Title          string    `db:"title"`
	Description    string    `db:"description"`
	Severity       string    `db:"severity"`
	Status         string    `db:"status"`
	Metadata       null.JSON `db:"metadata"`
	DetectedAt     time.Time `db:"detected_at"`
	AcknowledgedAt null.Time `db:"acknowledged_at"`
	ResolvedAt     null.Time `db:"resolved_at"`
}

type anomalyRepository struct {
	db *sqlx.DB
}

var _ anomaly.Repository = (*anomalyRepository)(nil) // interface compliance check

func NewAnomalyRepository(db *sqlx.DB) *anomalyRepository {
	return &anomalyRepository{db: db}
}

func (repo anomalyRepository) row(a anomaly.Anomaly) (anomalyRow, error) {
	r := anomalyRow{
		ID:             a.ID,
		StudentID:      a.StudentID,
		ModuleID:       a.ModuleID,
		Type:           a.Type,
		Title:          a.Title,
		Description:    a.Description,
		Severity:       a.Severity,
		Status:         a.Status,
		DetectedAt:     dbTime(a.DetectedAt),
		AcknowledgedAt: nullTime(a.AcknowledgedAt),
		ResolvedAt:     nullTime(a.ResolvedAt),
	}
	if a.Metadata != nil {
		var err error
		if r.Metadata, err = toNullJSON(a.Metadata); err != nil {
			return anomalyRow{}, err
		}
	}
	return r, nil
}

func (repo anomalyRepository) model(r anomalyRow) (anomaly.Anomaly, error) {
	a := anomaly.Anomaly{
		ID:             r.ID,
		StudentID:      r.StudentID,
		ModuleID:       r.ModuleID,
		Type:           r.Type,
		Title:          r.Title,
		Description:    r.Description,
		Severity:       r.Severity,
		Status:         r.Status,
		DetectedAt:     r.DetectedAt.UTC(),
		AcknowledgedAt: timePtr(r.AcknowledgedAt),
		ResolvedAt:     timePtr(r.ResolvedAt),
	}
	if r.Metadata.Valid {
		if err := fromJSON(r.Metadata.JSON, &a.Metadata); err != nil {
			return anomaly.Anomaly{}, err
		}
	}
	return a, nil
}

func (repo anomalyRepository) CreateAnomaly(ctx context.Context, a anomaly.Anomaly) (anomaly.Anomaly, error) {
	a.ID = newID()
	r, err := repo.row(a)
	if err != nil {
		return anomaly.Anomaly{}, err
	}
	_, err = namedExec(ctx, repo.db, `INSERT INTO anomalies (`+anomalyColumns+`) VALUES (
		:id, :student_id, :module_id, :anomaly_type, :title, :description, :severity, :status,
		:metadata, :detected_at, :acknowledged_at, :resolved_at)`, r)
	if isUniqueViolation(err) {
		return anomaly.Anomaly{}, anomaly.ErrActiveExists
	} else if err != nil {
		return anomaly.Anomaly{}, errors.Wrap(err, "inserting anomaly")
	}
	return repo.model(r)
}

func (repo anomalyRepository) GetAnomaly(ctx context.Context, id string) (anomaly.Anomaly, error) {
	if !validID(id) {
		return anomaly.Anomaly{}, anomaly.ErrNotFound
	}
	var r anomalyRow
	err := getRow(ctx, repo.db, &r, `SELECT `+anomalyColumns+` FROM anomalies WHERE id = ?`, id)
	if err != nil {
		return anomaly.Anomaly{}, trapNoRowsErr(err, anomaly.ErrNotFound, "finding anomaly by ID")
	}
	return repo.model(r)
}

func (repo anomalyRepository) QueryAnomalies(ctx context.Context, filter anomaly.QueryFilter) ([]anomaly.Anomaly, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id = ?", filter.StudentID)
	}
	if filter.ModuleID != nil {
		w.add("module_id = ?", *filter.ModuleID)
	}
	if filter.Type != "" {
		w.add("anomaly_type = ?", filter.Type)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}

	var rows []anomalyRow
	query := `SELECT ` + anomalyColumns + ` FROM anomalies` + w.String() + ` ORDER BY detected_at DESC, id`
	if err := selectRows(ctx, repo.db, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying anomalies")
	}

	anomalies := make([]anomaly.Anomaly, 0, len(rows))
	for _, r := range rows {
		a, err := repo.model(r)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, nil
}

func (repo anomalyRepository) UpdateAnomaly(ctx context.Context, a anomaly.Anomaly) (anomaly.Anomaly, error) {
	r, err := repo.row(a)
	if err != nil {
		return anomaly.Anomaly{}, err
	}
	res, err := namedExec(ctx, repo.db, `UPDATE anomalies SET
		title = :title, description = :description, severity = :severity, status = :status,
		metadata = :metadata, acknowledged_at = :acknowledged_at, resolved_at = :resolved_at
		WHERE id = :id`, r)
	if err != nil {
		return anomaly.Anomaly{}, errors.Wrap(err, "updating anomaly")
	}
	if err = exactlyOne(res, anomaly.ErrNotFound); err != nil {
		return anomaly.Anomaly{}, err
	}
	return repo.model(r)
}
