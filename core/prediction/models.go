package prediction

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/abmarghoub/EduPathInsight/core"
)

// Recommendation types
const (
	RecommendationHighDropoutRisk       = "HIGH_DROPOUT_RISK"
	RecommendationLowSuccessProbability = "LOW_SUCCESS_PROBABILITY"
)

// Risk factors of a trajectory
const (
	FactorLowPresence      = "LOW_PRESENCE"
	FactorFrequentLateness = "FREQUENT_LATENESS"
	FactorLowCompletion    = "LOW_COMPLETION"
	FactorLowParticipation = "LOW_PARTICIPATION"
	FactorHighDropout      = "HIGH_DROPOUT_PROBABILITY"
	FactorMajorityAtRisk   = "MAJORITY_AT_RISK"
)

// ExpectedProgress is the progress a student is expected to have reached.
const ExpectedProgress = 0.7

type (
	Prediction struct {
		ID                 string             `json:"id"`
		StudentID          string             `json:"student_id"`
		ModuleID           int64              `json:"module_id"`
		SuccessProbability float64            `json:"success_probability"`
		DropoutProbability float64            `json:"dropout_probability"`
		RiskLevel          string             `json:"risk_level"`
		PredictedGrade     *float64           `json:"predicted_grade"`
		ConfidenceScore    float64            `json:"confidence_score"`
		Features           map[string]float64 `json:"features"`
		ModelVersion       string             `json:"model_version"`
		CreatedAt          time.Time          `json:"created_at"` // UTC
		UpdatedAt          time.Time          `json:"updated_at"` // UTC
	}

	PredictRequest struct {
		StudentID string `json:"student_id" validate:"required"`
		ModuleID  int64  `json:"module_id" validate:"required,gt=0"`
		UseCache  *bool  `json:"use_cache"` // defaults to true
	}

	Milestone struct {
		Milestone   string    `json:"milestone"`
		Date        core.Date `json:"date"`
		Probability float64   `json:"probability"`
	}

	Recommendation struct {
		Type    string   `json:"type"`
		Message string   `json:"message"`
		Actions []string `json:"actions"`
	}

	TrajectoryData struct {
		CurrentProgress         float64     `json:"current_progress"`
		ExpectedProgress        float64     `json:"expected_progress"`
		PredictedCompletionDate *core.Date  `json:"predicted_completion_date"`
		Milestones              []Milestone `json:"milestones"`
		RiskFactors             []string    `json:"risk_factors"`
	}

	Trajectory struct {
		ID              string           `json:"id"`
		StudentID       string           `json:"student_id"`
		ModuleID        int64            `json:"module_id"`
		PredictionID    *string          `json:"prediction_id"`
		Data            TrajectoryData   `json:"trajectory_data"`
		Milestones      []Milestone      `json:"milestones"`
		Recommendations []Recommendation `json:"recommendations"`
		CreatedAt       time.Time        `json:"created_at"` // UTC
		UpdatedAt       time.Time        `json:"updated_at"` // UTC
	}

	// RiskModule aggregates the latest predictions of every student of a module.
	RiskModule struct {
		ModuleID       int64     `json:"module_id"`
		ModuleCode     string    `json:"module_code"`
		ModuleName     string    `json:"module_name"`
		RiskScore      float64   `json:"risk_score"`
		AtRiskStudents int       `json:"at_risk_students_count"`
		TotalStudents  int       `json:"total_students"`
		AverageSuccess float64   `json:"average_success_probability"`
		AverageDropout float64   `json:"average_dropout_probability"`
		RiskFactors    []string  `json:"risk_factors"`
		CreatedAt      time.Time `json:"created_at"` // UTC
		UpdatedAt      time.Time `json:"updated_at"` // UTC
	}

	QueryFilter struct {
		StudentID string
		ModuleID  *int64
	}
)

func (pr *PredictRequest) Validate(validate *validator.Validate) error {
	pr.StudentID = core.CleanString(pr.StudentID)
	return validate.Struct(pr)
}

func (pr PredictRequest) useCache() bool {
	return pr.UseCache == nil || *pr.UseCache
}
