package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/abmarghoub/EduPathInsight/core/explanation"
)

const (
	explanationColumns = `id, student_id, module_id, prediction_id, explanation_type, explanation_data,
	feature_importance, local_prediction, confidence_score, created_at`
	importanceColumns = `id, student_id, module_id, explanation_id, feature_name, importance_score,
	feature_value, impact_direction, created_at`
)

type (
	explanationRow struct {
		ID                string       `db:"id"`
		StudentID         string       `db:"student_id"`
		ModuleID          int64        `db:"module_id"`
		PredictionID      null.String  `db:"prediction_id"`
		ExplanationType   string       `db:"explanation_type"`
		ExplanationData   types.JSON   `db:"explanation_data"`
		FeatureImportance null.JSON    `db:"feature_importance"`
		LocalPrediction   null.Float64 `db:"local_prediction"`
		ConfidenceScore   null.Float64 `db:"confidence_score"`
		CreatedAt         time.Time    `db:"created_at"`
	}

	importanceRow struct {
		ID              string       `db:"id"`
		StudentID       string       `db:"student_id"`
		ModuleID        int64        `db:"module_id"`
		ExplanationID   null.String  `db:"explanation_id"`
		FeatureName     string       `db:"feature_name"`
		ImportanceScore float64      `db:"importance_score"`
		FeatureValue    null.Float64 `db:"feature_value"`
		ImpactDirection string       `db:"impact_direction"`
		CreatedAt       time.Time    `db:"created_at"`
	}
)

type explanationRepository struct {
	db *sqlx.DB
}

var _ explanation.Repository = (*explanationRepository)(nil) // interface compliance check

func NewExplanationRepository(db *sqlx.DB) *explanationRepository {
	return &explanationRepository{db: db}
}

func (repo explanationRepository) row(e explanation.Explanation) (explanationRow, error) {
	r := explanationRow{
		ID:              e.ID,
		StudentID:       e.StudentID,
		ModuleID:        e.ModuleID,
		PredictionID:    null.StringFromPtr(e.PredictionID),
		ExplanationType: e.ExplanationType,
		LocalPrediction: null.Float64FromPtr(e.LocalPrediction),
		ConfidenceScore: null.Float64FromPtr(e.ConfidenceScore),
		CreatedAt:       dbTime(e.CreatedAt),
	}
	var err error
	if r.ExplanationData, err = toJSON(e.ExplanationData); err != nil {
		return explanationRow{}, err
	}
	if r.FeatureImportance, err = toNullJSON(e.FeatureImportance); err != nil {
		return explanationRow{}, err
	}
	return r, nil
}

func (repo explanationRepository) model(r explanationRow) (explanation.Explanation, error) {
	e := explanation.Explanation{
		ID:              r.ID,
		StudentID:       r.StudentID,
		ModuleID:        r.ModuleID,
		PredictionID:    r.PredictionID.Ptr(),
		ExplanationType: r.ExplanationType,
		LocalPrediction: r.LocalPrediction.Ptr(),
		ConfidenceScore: r.ConfidenceScore.Ptr(),
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if err := fromJSON(r.ExplanationData, &e.ExplanationData); err != nil {
		return explanation.Explanation{}, err
	}
	if err := fromJSON(r.FeatureImportance.JSON, &e.FeatureImportance); err != nil {
		return explanation.Explanation{}, err
	}
	return e, nil
}

func (repo explanationRepository) importanceRow(fi explanation.FeatureImportance) importanceRow {
	return importanceRow{
		ID:              fi.ID,
		StudentID:       fi.StudentID,
		ModuleID:        fi.ModuleID,
		ExplanationID:   null.StringFromPtr(fi.ExplanationID),
		FeatureName:     fi.FeatureName,
		ImportanceScore: fi.ImportanceScore,
		FeatureValue:    null.Float64FromPtr(fi.FeatureValue),
		ImpactDirection: fi.ImpactDirection,
		CreatedAt:       dbTime(fi.CreatedAt),
	}
}

func (repo explanationRepository) importance(r importanceRow) explanation.FeatureImportance {
	return explanation.FeatureImportance{
		ID:              r.ID,
		StudentID:       r.StudentID,
		ModuleID:        r.ModuleID,
		ExplanationID:   r.ExplanationID.Ptr(),
		FeatureName:     r.FeatureName,
		ImportanceScore: r.ImportanceScore,
		FeatureValue:    r.FeatureValue.Ptr(),
		ImpactDirection: r.ImpactDirection,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

// CreateExplanation stores the explanation and its importances in one transaction.
func (repo explanationRepository) CreateExplanation(
	ctx context.Context,
	e explanation.Explanation,
	importances []explanation.FeatureImportance,
) (explanation.Explanation, error) {
	e.ID = newID()
	r, err := repo.row(e)
	if err != nil {
		return explanation.Explanation{}, err
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return explanation.Explanation{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = namedExec(ctx, tx, `INSERT INTO explanations (`+explanationColumns+`) VALUES (
		:id, :student_id, :module_id, :prediction_id, :explanation_type, :explanation_data,
		:feature_importance, :local_prediction, :confidence_score, :created_at)`, r)
	if err != nil {
		return explanation.Explanation{}, errors.Wrap(err, "inserting explanation")
	}
	for _, fi := range importances {
		fi.ID = newID()
		fi.ExplanationID = &e.ID
		_, err = namedExec(ctx, tx, `INSERT INTO feature_importances (`+importanceColumns+`) VALUES (
			:id, :student_id, :module_id, :explanation_id, :feature_name, :importance_score,
			:feature_value, :impact_direction, :created_at)`, repo.importanceRow(fi))
		if err != nil {
			return explanation.Explanation{}, errors.Wrap(err, "inserting feature importance")
		}
	}
	if err = tx.Commit(); err != nil {
		return explanation.Explanation{}, errors.Wrap(err, "committing explanation")
	}
	return repo.model(r)
}

func (repo explanationRepository) QueryExplanations(ctx context.Context, studentID string) ([]explanation.Explanation, error) {
	var rows []explanationRow
	err := selectRows(ctx, repo.db, &rows,
		`SELECT `+explanationColumns+` FROM explanations WHERE student_id = ? ORDER BY created_at DESC, id DESC`,
		studentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying explanations")
	}

	explanations := make([]explanation.Explanation, 0, len(rows))
	for _, r := range rows {
		e, err := repo.model(r)
		if err != nil {
			return nil, err
		}
		explanations = append(explanations, e)
	}
	return explanations, nil
}

// FeatureImportances returns nothing when the student was never explained in the module.
func (repo explanationRepository) FeatureImportances(ctx context.Context, studentID string, moduleID int64) ([]explanation.FeatureImportance, error) {
	var latestID string
	err := getRow(ctx, repo.db, &latestID, `SELECT id FROM explanations
		WHERE student_id = ? AND module_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, studentID, moduleID)
	if errors.Is(err, sql.ErrNoRows) {
		return []explanation.FeatureImportance{}, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "finding latest explanation")
	}

	var rows []importanceRow
	err = selectRows(ctx, repo.db, &rows,
		`SELECT `+importanceColumns+` FROM feature_importances
		WHERE explanation_id = ? ORDER BY importance_score DESC, feature_name`, latestID)
	if err != nil {
		return nil, errors.Wrap(err, "querying feature importances")
	}

	fis := make([]explanation.FeatureImportance, 0, len(rows))
	for _, r := range rows {
		fis = append(fis, repo.importance(r))
	}
	return fis, nil
}
