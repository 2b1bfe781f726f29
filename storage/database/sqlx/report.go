package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/abmarghoub/EduPathInsight/core/report"
)

const reportColumns = `id, student_id, module_id, report_type, report_data, summary, key_factors,
	recommendations, created_at, updated_at`

type reportRow struct {
	ID              string     `db:"id"`
	StudentID       string     `db:"student_id"`
	ModuleID        int64      `db:"module_id"`
	ReportType      string     `db:"report_type"`
	ReportData      types.JSON `db:"report_data"`
	Summary         string     `db:"summary"`
	KeyFactors      null.JSON  `db:"key_factors"`
	Recommendations null.JSON  `db:"recommendations"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

type reportRepository struct {
	db *sqlx.DB
}

var _ report.Repository = (*reportRepository)(nil) // interface compliance check

func NewReportRepository(db *sqlx.DB) *reportRepository {
	return &reportRepository{db: db}
}

func (repo reportRepository) row(r report.Report) (reportRow, error) {
	row := reportRow{
		ID:         r.ID,
		StudentID:  r.StudentID,
		ModuleID:   r.ModuleID,
		ReportType: r.ReportType,
		Summary:    r.Summary,
		CreatedAt:  dbTime(r.CreatedAt),
		UpdatedAt:  dbTime(r.UpdatedAt),
	}
	var err error
	if row.ReportData, err = toJSON(r.ReportData); err != nil {
		return reportRow{}, err
	}
	if row.KeyFactors, err = toNullJSON(r.KeyFactors); err != nil {
		return reportRow{}, err
	}
	if row.Recommendations, err = toNullJSON(r.Recommendations); err != nil {
		return reportRow{}, err
	}
	return row, nil
}

func (repo reportRepository) model(row reportRow) (report.Report, error) {
	r := report.Report{
		ID:         row.ID,
		StudentID:  row.StudentID,
		ModuleID:   row.ModuleID,
		ReportType: row.ReportType,
		Summary:    row.Summary,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if err := fromJSON(row.ReportData, &r.ReportData); err != nil {
		return report.Report{}, err
	}
	if err := fromJSON(row.KeyFactors.JSON, &r.KeyFactors); err != nil {
		return report.Report{}, err
	}
	if err := fromJSON(row.Recommendations.JSON, &r.Recommendations); err != nil {
		return report.Report{}, err
	}
	return r, nil
}

func (repo reportRepository) CreateReport(ctx context.Context, r report.Report) (report.Report, error) {
	r.ID = newID()
	row, err := repo.row(r)
	if err != nil {
		return report.Report{}, err
	}
	_, err = namedExec(ctx, repo.db, `INSERT INTO reports (`+reportColumns+`) VALUES (
		:id, :student_id, :module_id, :report_type, :report_data, :summary, :key_factors,
		:recommendations, :created_at, :updated_at)`, row)
	if err != nil {
		return report.Report{}, errors.Wrap(err, "inserting report")
	}
	return repo.model(row)
}

func (repo reportRepository) QueryReports(ctx context.Context, studentID, reportType string) ([]report.Report, error) {
	var w where
	w.add("student_id = ?", studentID)
	if reportType != "" {
		w.add("report_type = ?", reportType)
	}

	var rows []reportRow
	query := `SELECT ` + reportColumns + ` FROM reports` + w.String() + ` ORDER BY created_at DESC, id DESC`
	if err := selectRows(ctx, repo.db, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying reports")
	}

	reports := make([]report.Report, 0, len(rows))
	for _, row := range rows {
		r, err := repo.model(row)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}
