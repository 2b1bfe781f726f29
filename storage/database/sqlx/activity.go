package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
)

const activityColumns = `id, student_id, student_username, module_id, module_code, module_name, activity_type,
	title, description, activity_date, duration_minutes, completed, participation_score, notes,
	teacher_id, teacher_username, created_at, updated_at`

var activityOrderings = map[string]bool{
	"activity_date":       true,
	"created_at":          true,
	"updated_at":          true,
	"student_id":          true,
	"module_id":           true,
	"activity_type":       true,
	"participation_score": true,
}

type activityRow struct {
	ID                 string       `db:"id"`
	StudentID          string       `db:"student_id"`
	StudentUsername    string       `db:"student_username"`
	ModuleID           int64        `db:"module_id"`
	ModuleCode         string       `db:"module_code"`
	ModuleName         string       `db:"module_name"`
	ActivityType       string       `db:"activity_type"`
	Title              string       `db:"title"`
	Description        null.String  `db:"description"`
	ActivityDate       core.Date    `db:"activity_date"`
	DurationMinutes    null.Int     `db:"duration_minutes"`
	Completed          bool         `db:"completed"`
	ParticipationScore null.Float64 `db:"participation_score"`
	Notes              null.String  `db:"notes"`
	TeacherID          string       `db:"teacher_id"`
	TeacherUsername    string       `db:"teacher_username"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

type activityRepository struct {
	db *sqlx.DB
}

var _ activity.Repository = (*activityRepository)(nil) // interface compliance check

func NewActivityRepository(db *sqlx.DB) *activityRepository {
	return &activityRepository{db: db}
}

func (repo activityRepository) row(a activity.Activity) activityRow {
	return activityRow{
		ID:                 a.ID,
		StudentID:          a.StudentID,
		StudentUsername:    a.StudentUsername,
		ModuleID:           a.ModuleID,
		ModuleCode:         a.ModuleCode,
		ModuleName:         a.ModuleName,
		ActivityType:       a.ActivityType,
		Title:              a.Title,
		Description:        null.StringFromPtr(a.Description),
		ActivityDate:       a.ActivityDate,
		DurationMinutes:    null.IntFromPtr(a.DurationMinutes),
		Completed:          a.Completed,
		ParticipationScore: null.Float64FromPtr(a.ParticipationScore),
		Notes:              null.StringFromPtr(a.Notes),
		TeacherID:          a.TeacherID,
		TeacherUsername:    a.TeacherUsername,
		CreatedAt:          dbTime(a.CreatedAt),
		UpdatedAt:          dbTime(a.UpdatedAt),
	}
}

func (repo activityRepository) model(r activityRow) activity.Activity {
	return activity.Activity{
		ID:                 r.ID,
		StudentID:          r.StudentID,
		StudentUsername:    r.StudentUsername,
		ModuleID:           r.ModuleID,
		ModuleCode:         r.ModuleCode,
		ModuleName:         r.ModuleName,
		ActivityType:       r.ActivityType,
		Title:              r.Title,
		Description:        r.Description.Ptr(),
		ActivityDate:       r.ActivityDate,
		DurationMinutes:    r.DurationMinutes.Ptr(),
		Completed:          r.Completed,
		ParticipationScore: r.ParticipationScore.Ptr(),
		Notes:              r.Notes.Ptr(),
		TeacherID:          r.TeacherID,
		TeacherUsername:    r.TeacherUsername,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

func (repo activityRepository) CreateActivity(ctx context.Context, a activity.Activity) (activity.Activity, error) {
	a.ID = newID()
	r := repo.row(a)
	_, err := namedExec(ctx, repo.db, `INSERT INTO activities (`+activityColumns+`) VALUES (
		:id, :student_id, :student_username, :module_id, :module_code, :module_name, :activity_type,
		:title, :description, :activity_date, :duration_minutes, :completed, :participation_score, :notes,
		:teacher_id, :teacher_username, :created_at, :updated_at)`, r)
	if err != nil {
		return activity.Activity{}, errors.Wrap(err, "inserting activity")
	}
	return repo.model(r), nil
}

func (repo activityRepository) GetActivity(ctx context.Context, id string) (activity.Activity, error) {
	if !validID(id) {
		return activity.Activity{}, activity.ErrNotFound
	}
	var r activityRow
	err := getRow(ctx, repo.db, &r, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	if err != nil {
		return activity.Activity{}, trapNoRowsErr(err, activity.ErrNotFound, "finding activity by ID")
	}
	return repo.model(r), nil
}

func (repo activityRepository) QueryActivities(ctx context.Context, filter activity.QueryFilter, ordering []core.DBOrdering) ([]activity.Activity, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id = ?", filter.StudentID)
	}
	if filter.ModuleID != nil {
		w.add("module_id = ?", *filter.ModuleID)
	}
	if filter.ActivityType != "" {
		w.add("activity_type = ?", filter.ActivityType)
	}
	if filter.Completed != nil {
		w.add("completed = ?", *filter.Completed)
	}
	if !filter.From.IsZero() {
		w.add("activity_date >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		w.add("activity_date <= ?", filter.To)
	}

	query := `SELECT ` + activityColumns + ` FROM activities` + w.String() +
		orderBy(ordering, activityOrderings, "activity_date DESC, created_at DESC")
	var rows []activityRow
	if err := selectRows(ctx, repo.db, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying activities")
	}

	activities := make([]activity.Activity, 0, len(rows))
	for _, r := range rows {
		activities = append(activities, repo.model(r))
	}
	return activities, nil
}

func (repo activityRepository) UpdateActivity(ctx context.Context, a activity.Activity) (activity.Activity, error) {
	r := repo.row(a)
	res, err := namedExec(ctx, repo.db, `UPDATE activities SET
		student_username = :student_username, activity_type = :activity_type, title = :title,
		description = :description, activity_date = :activity_date, duration_minutes = :duration_minutes,
		completed = :completed, participation_score = :participation_score, notes = :notes,
		updated_at = :updated_at
		WHERE id = :id`, r)
	if err != nil {
		return activity.Activity{}, errors.Wrap(err, "updating activity")
	}
	if err = exactlyOne(res, activity.ErrNotFound); err != nil {
		return activity.Activity{}, err
	}
	return repo.model(r), nil
}

func (repo activityRepository) DeleteActivity(ctx context.Context, id string) error {
	if !validID(id) {
		return activity.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(`DELETE FROM activities WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting activity")
	}
	return exactlyOne(res, activity.ErrNotFound)
}

func (repo activityRepository) StudentModules(ctx context.Context) ([]core.StudentModule, error) {
	var pairs []core.StudentModule
	err := selectRows(ctx, repo.db, &pairs,
		`SELECT DISTINCT student_id, module_id FROM activities ORDER BY student_id, module_id`)
	return pairs, errors.Wrap(err, "listing activity pairs")
}
