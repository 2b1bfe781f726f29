package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/presence"
)

const presenceColumns = `id, student_id, student_username, module_id, module_code, module_name, session_date,
	session_time, status, notes, teacher_id, teacher_username, created_at, updated_at`

var presenceOrderings = map[string]bool{
	"session_date": true,
	"created_at":   true,
	"updated_at":   true,
	"student_id":   true,
	"module_id":    true,
	"status":       true,
}

type presenceRow struct {
	ID              string      `db:"id"`
	StudentID       string      `db:"student_id"`
	StudentUsername string      `db:"student_username"`
	ModuleID        int64       `db:"module_id"`
	ModuleCode      string      `db:"module_code"`
	ModuleName      string      `db:"module_name"`
	SessionDate     core.Date   `db:"session_date"`
	SessionTime     null.String `db:"session_time"`
	Status          string      `db:"status"`
	Notes           null.String `db:"notes"`
	TeacherID       string      `db:"teacher_id"`
	TeacherUsername string      `db:"teacher_username"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
}

type presenceRepository struct {
	db *sqlx.DB
}

var _ presence.Repository = (*presenceRepository)(nil) // interface compliance check

func NewPresenceRepository(db *sqlx.DB) *presenceRepository {
	return &presenceRepository{db: db}
}

func (repo presenceRepository) row(p presence.Presence) presenceRow {
	return presenceRow{
		ID:              p.ID,
		StudentID:       p.StudentID,
		StudentUsername: p.StudentUsername,
		ModuleID:        p.ModuleID,
		ModuleCode:      p.ModuleCode,
		ModuleName:      p.ModuleName,
		SessionDate:     p.SessionDate,
		SessionTime:     null.StringFromPtr(p.SessionTime),
		Status:          p.Status,
		Notes:           null.StringFromPtr(p.Notes),
		TeacherID:       p.TeacherID,
		TeacherUsername: p.TeacherUsername,
		CreatedAt:       dbTime(p.CreatedAt),
		UpdatedAt:       dbTime(p.UpdatedAt),
	}
}

func (repo presenceRepository) model(r presenceRow) presence.Presence {
	return presence.Presence{
		ID:              r.ID,
		StudentID:       r.StudentID,
		StudentUsername: r.StudentUsername,
		ModuleID:        r.ModuleID,
		ModuleCode:      r.ModuleCode,
		ModuleName:      r.ModuleName,
		SessionDate:     r.SessionDate,
		SessionTime:     r.SessionTime.Ptr(),
		Status:          r.Status,
		Notes:           r.Notes.Ptr(),
		TeacherID:       r.TeacherID,
		TeacherUsername: r.TeacherUsername,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func (repo presenceRepository) CreatePresence(ctx context.Context, p presence.Presence) (presence.Presence, error) {
	p.ID = newID()
	r := repo.row(p)
	_, err := namedExec(ctx, repo.db, `INSERT INTO presences (`+presenceColumns+`) VALUES (
		:id, :student_id, :student_username, :module_id, :module_code, :module_name, :session_date,
		:session_time, :status, :notes, :teacher_id, :teacher_username, :created_at, :updated_at)`, r)
	if err != nil {
		return presence.Presence{}, errors.Wrap(err, "inserting presence")
	}
	return repo.model(r), nil
}

func (repo presenceRepository) GetPresence(ctx context.Context, id string) (presence.Presence, error) {
	if !validID(id) {
		return presence.Presence{}, presence.ErrNotFound
	}
	var r presenceRow
	err := getRow(ctx, repo.db, &r, `SELECT `+presenceColumns+` FROM presences WHERE id = ?`, id)
	if err != nil {
		return presence.Presence{}, trapNoRowsErr(err, presence.ErrNotFound, "finding presence by ID")
	}
	return repo.model(r), nil
}

func (repo presenceRepository) QueryPresences(ctx context.Context, filter presence.QueryFilter, ordering []core.DBOrdering) ([]presence.Presence, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id = ?", filter.StudentID)
	}
	if filter.ModuleID != nil {
		w.add("module_id = ?", *filter.ModuleID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		w.add("session_date >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		w.add("session_date <= ?", filter.To)
	}

	query := `SELECT ` + presenceColumns + ` FROM presences` + w.String() +
		orderBy(ordering, presenceOrderings, "session_date DESC, created_at DESC")
	var rows []presenceRow
	if err := selectRows(ctx, repo.db, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying presences")
	}

	presences := make([]presence.Presence, 0, len(rows))
	for _, r := range rows {
		presences = append(presences, repo.model(r))
	}
	return presences, nil
}

func (repo presenceRepository) UpdatePresence(ctx context.Context, p presence.Presence) (presence.Presence, error) {
	r := repo.row(p)
	res, err := namedExec(ctx, repo.db, `UPDATE presences SET
		student_username = :student_username, session_date = :session_date, session_time = :session_time,
		status = :status, notes = :notes, updated_at = :updated_at
		WHERE id = :id`, r)
	if err != nil {
		return presence.Presence{}, errors.Wrap(err, "updating presence")
	}
	if err = exactlyOne(res, presence.ErrNotFound); err != nil {
		return presence.Presence{}, err
	}
	return repo.model(r), nil
}

func (repo presenceRepository) DeletePresence(ctx context.Context, id string) error {
	if !validID(id) {
		return presence.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(`DELETE FROM presences WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting presence")
	}
	return exactlyOne(res, presence.ErrNotFound)
}

func (repo presenceRepository) StudentModules(ctx context.Context) ([]core.StudentModule, error) {
	var pairs []core.StudentModule
	err := selectRows(ctx, repo.db, &pairs,
		`SELECT DISTINCT student_id, module_id FROM presences ORDER BY student_id, module_id`)
	return pairs, errors.Wrap(err, "listing presence pairs")
}
