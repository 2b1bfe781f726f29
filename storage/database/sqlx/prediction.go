package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/abmarghoub/EduPathInsight/core/prediction"
)

const (
	predictionColumns = `id, student_id, module_id, success_probability, dropout_probability, risk_level,
	predicted_grade, confidence_score, features, model_version, created_at, updated_at`
	trajectoryColumns = `id, student_id, module_id, prediction_id, trajectory_data, milestones, recommendations,
	created_at, updated_at`
	riskModuleColumns = `module_id, module_code, module_name, risk_score, at_risk_students, total_students,
	average_success, average_dropout, risk_factors, created_at, updated_at`
)

type (
	predictionRow struct {
		ID                 string       `db:"id"`
		StudentID          string       `db:"student_id"`
		ModuleID           int64        `db:"module_id"`
		SuccessProbability float64      `db:"success_probability"`
		DropoutProbability float64      `db:"dropout_probability"`
		RiskLevel          string       `db:"risk_level"`
		PredictedGrade     null.Float64 `db:"predicted_grade"`
		ConfidenceScore    float64      `db:"confidence_score"`
		Features           null.JSON    `db:"features"`
		ModelVersion       string       `db:"model_version"`
		CreatedAt          time.Time    `db:"created_at"`
		UpdatedAt          time.Time    `db:"updated_at"`
	}

	trajectoryRow struct {
		ID              string      `db:"id"`
		StudentID       string      `db:"student_id"`
		ModuleID        int64       `db:"module_id"`
		PredictionID    null.String `db:"prediction_id"`
		Data            types.JSON  `db:"trajectory_data"`
		Milestones      null.JSON   `db:"milestones"`
		Recommendations null.JSON   `db:"recommendations"`
		CreatedAt       time.Time   `db:"created_at"`
		UpdatedAt       time.Time   `db:"updated_at"`
	}

	riskModuleRow struct {
		ModuleID       int64     `db:"module_id"`
		ModuleCode     string    `db:"module_code"`
		ModuleName     string    `db:"module_name"`
		RiskScore      float64   `db:"risk_score"`
		AtRiskStudents int       `db:"at_risk_students"`
		TotalStudents  int       `db:"total_students"`
		AverageSuccess float64   `db:"average_success"`
		AverageDropout float64   `db:"average_dropout"`
		RiskFactors    null.JSON `db:"risk_factors"`
		CreatedAt      time.Time `db:"created_at"`
		UpdatedAt      time.Time `db:"updated_at"`
	}
)

type predictionRepository struct {
	db *sqlx.DB
}

var _ prediction.Repository = (*predictionRepository)(nil) // interface compliance check

func NewPredictionRepository(db *sqlx.DB) *predictionRepository {
	return &predictionRepository{db: db}
}

func (repo predictionRepository) predictionRow(p prediction.Prediction) (predictionRow, error) {
	r := predictionRow{
		ID:                 p.ID,
		StudentID:          p.StudentID,
		ModuleID:           p.ModuleID,
		SuccessProbability: p.SuccessProbability,
		DropoutProbability: p.DropoutProbability,
		RiskLevel:          p.RiskLevel,
		PredictedGrade:     null.Float64FromPtr(p.PredictedGrade),
		ConfidenceScore:    p.ConfidenceScore,
		ModelVersion:       p.ModelVersion,
		CreatedAt:          dbTime(p.CreatedAt),
		UpdatedAt:          dbTime(p.UpdatedAt),
	}
	if p.Features != nil {
		var err error
		if r.Features, err = toNullJSON(p.Features); err != nil {
			return predictionRow{}, err
		}
	}
	return r, nil
}

func (repo predictionRepository) prediction(r predictionRow) (prediction.Prediction, error) {
	p := prediction.Prediction{
		ID:                 r.ID,
		StudentID:          r.StudentID,
		ModuleID:           r.ModuleID,
		SuccessProbability: r.SuccessProbability,
		DropoutProbability: r.DropoutProbability,
		RiskLevel:          r.RiskLevel,
		PredictedGrade:     r.PredictedGrade.Ptr(),
		ConfidenceScore:    r.ConfidenceScore,
		ModelVersion:       r.ModelVersion,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.Features.Valid {
		if err := fromJSON(r.Features.JSON, &p.Features); err != nil {
			return prediction.Prediction{}, err
		}
	}
	return p, nil
}

func (repo predictionRepository) predictions(rows []predictionRow) ([]prediction.Prediction, error) {
	preds := make([]prediction.Prediction, 0, len(rows))
	for _, r := range rows {
		p, err := repo.prediction(r)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func (repo predictionRepository) CreatePrediction(ctx context.Context, p prediction.Prediction) (prediction.Prediction, error) {
	p.ID = newID()
	r, err := repo.predictionRow(p)
	if err != nil {
		return prediction.Prediction{}, err
	}
	_, err = namedExec(ctx, repo.db, `INSERT INTO predictions (`+predictionColumns+`) VALUES (
		:id, :student_id, :module_id, :success_probability, :dropout_probability, :risk_level,
		:predicted_grade, :confidence_score, :features, :model_version, :created_at, :updated_at)`, r)
	if err != nil {
		return prediction.Prediction{}, errors.Wrap(err, "inserting prediction")
	}
	return repo.prediction(r)
}

func (repo predictionRepository) QueryPredictions(ctx context.Context, filter prediction.QueryFilter) ([]prediction.Prediction, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id = ?", filter.StudentID)
	}
	if filter.ModuleID != nil {
		w.add("module_id = ?", *filter.ModuleID)
	}

	var rows []predictionRow
	query := `SELECT ` + predictionColumns + ` FROM predictions` + w.String() + ` ORDER BY created_at DESC, id DESC`
	if err := selectRows(ctx, repo.db, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying predictions")
	}
	return repo.predictions(rows)
}

func (repo predictionRepository) LatestPredictions(ctx context.Context) ([]prediction.Prediction, error) {
	var rows []predictionRow
	err := selectRows(ctx, repo.db, &rows, `SELECT `+predictionColumns+` FROM predictions p
		WHERE NOT EXISTS (
			SELECT 1 FROM predictions q
			WHERE q.student_id = p.student_id AND q.module_id = p.module_id
			AND (q.created_at > p.created_at OR (q.created_at = p.created_at AND q.id > p.id))
		)
		ORDER BY module_id, student_id`)
	if err != nil {
		return nil, errors.Wrap(err, "querying latest predictions")
	}
	return repo.predictions(rows)
}

func (repo predictionRepository) trajectoryRow(t prediction.Trajectory) (trajectoryRow, error) {
	r := trajectoryRow{
		ID:           t.ID,
		StudentID:    t.StudentID,
		ModuleID:     t.ModuleID,
		PredictionID: null.StringFromPtr(t.PredictionID),
		CreatedAt:    dbTime(t.CreatedAt),
		UpdatedAt:    dbTime(t.UpdatedAt),
	}
	var err error
	if r.Data, err = toJSON(t.Data); err != nil {
		return trajectoryRow{}, err
	}
	if r.Milestones, err = toNullJSON(t.Milestones); err != nil {
		return trajectoryRow{}, err
	}
	if r.Recommendations, err = toNullJSON(t.Recommendations); err != nil {
		return trajectoryRow{}, err
	}
	return r, nil
}

func (repo predictionRepository) trajectory(r trajectoryRow) (prediction.Trajectory, error) {
	t := prediction.Trajectory{
		ID:           r.ID,
		StudentID:    r.StudentID,
		ModuleID:     r.ModuleID,
		PredictionID: r.PredictionID.Ptr(),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if err := fromJSON(r.Data, &t.Data); err != nil {
		return prediction.Trajectory{}, err
	}
	if err := fromJSON(r.Milestones.JSON, &t.Milestones); err != nil {
		return prediction.Trajectory{}, err
	}
	if err := fromJSON(r.Recommendations.JSON, &t.Recommendations); err != nil {
		return prediction.Trajectory{}, err
	}
	return t, nil
}

func (repo predictionRepository) GetTrajectory(ctx context.Context, studentID string, moduleID int64) (prediction.Trajectory, error) {
	var r trajectoryRow
	err := getRow(ctx, repo.db, &r,
		`SELECT `+trajectoryColumns+` FROM trajectories WHERE student_id = ? AND module_id = ?`,
		studentID, moduleID)
	if err != nil {
		return prediction.Trajectory{}, trapNoRowsErr(err, prediction.ErrTrajectoryNotFound, "finding trajectory")
	}
	return repo.trajectory(r)
}

func (repo predictionRepository) CreateTrajectory(ctx context.Context, t prediction.Trajectory) (prediction.Trajectory, error) {
	t.ID = newID()
	r, err := repo.trajectoryRow(t)
	if err != nil {
		return prediction.Trajectory{}, err
	}
	_, err = namedExec(ctx, repo.db, `INSERT INTO trajectories (`+trajectoryColumns+`) VALUES (
		:id, :student_id, :module_id, :prediction_id, :trajectory_data, :milestones, :recommendations,
		:created_at, :updated_at)`, r)
	if err != nil {
		return prediction.Trajectory{}, errors.Wrap(err, "inserting trajectory")
	}
	return repo.trajectory(r)
}

// UpsertRiskModule keeps one row per module; the creation time of an existing row is preserved.
func (repo predictionRepository) UpsertRiskModule(ctx context.Context, rm prediction.RiskModule) (prediction.RiskModule, error) {
	factors, err := toNullJSON(rm.RiskFactors)
	if err != nil {
		return prediction.RiskModule{}, err
	}
	r := riskModuleRow{
		ModuleID:       rm.ModuleID,
		ModuleCode:     rm.ModuleCode,
		ModuleName:     rm.ModuleName,
		RiskScore:      rm.RiskScore,
		AtRiskStudents: rm.AtRiskStudents,
		TotalStudents:  rm.TotalStudents,
		AverageSuccess: rm.AverageSuccess,
		AverageDropout: rm.AverageDropout,
		RiskFactors:    factors,
		CreatedAt:      dbTime(rm.CreatedAt),
		UpdatedAt:      dbTime(rm.UpdatedAt),
	}
	_, err = namedExec(ctx, repo.db, `INSERT INTO risk_modules (`+riskModuleColumns+`) VALUES (
		:module_id, :module_code, :module_name, :risk_score, :at_risk_students, :total_students,
		:average_success, :average_dropout, :risk_factors, :created_at, :updated_at)
		ON CONFLICT (module_id) DO UPDATE SET
		module_code = excluded.module_code, module_name = excluded.module_name,
		risk_score = excluded.risk_score, at_risk_students = excluded.at_risk_students,
		total_students = excluded.total_students, average_success = excluded.average_success,
		average_dropout = excluded.average_dropout, risk_factors = excluded.risk_factors,
		updated_at = excluded.updated_at`, r)
	if err != nil {
		return prediction.RiskModule{}, errors.Wrap(err, "saving risk module")
	}

	if err = getRow(ctx, repo.db, &r,
		`SELECT `+riskModuleColumns+` FROM risk_modules WHERE module_id = ?`, rm.ModuleID); err != nil {
		return prediction.RiskModule{}, errors.Wrap(err, "reading risk module")
	}
	out := prediction.RiskModule{
		ModuleID:       r.ModuleID,
		ModuleCode:     r.ModuleCode,
		ModuleName:     r.ModuleName,
		RiskScore:      r.RiskScore,
		AtRiskStudents: r.AtRiskStudents,
		TotalStudents:  r.TotalStudents,
		AverageSuccess: r.AverageSuccess,
		AverageDropout: r.AverageDropout,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if err = fromJSON(r.RiskFactors.JSON, &out.RiskFactors); err != nil {
		return prediction.RiskModule{}, err
	}
	return out, nil
}
