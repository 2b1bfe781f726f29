package report

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/explanation"
)

// Thresholds above which the prediction itself triggers a recommendation.
const (
	DropoutRiskThreshold    = 0.4
	LowSuccessThreshold     = 0.5
	mobileMaxRecommendation = 3
)

type (
	Repository interface {
		CreateReport(ctx context.Context, r Report) (Report, error)
		// QueryReports lists the reports of a student, newest first. An empty reportType matches all.
		QueryReports(ctx context.Context, studentID, reportType string) ([]Report, error)
	}

	Explainer interface {
		Explain(ctx context.Context, studentID string, moduleID int64) (explanation.Explanation, error)
	}

	Service struct {
		repo      Repository
		explainer Explainer
		logger    core.Logger
	}
)

func NewService(repo Repository, explainer Explainer, logger core.Logger) *Service {
	return &Service{repo: repo, explainer: explainer, logger: logger}
}

// Generate explains the latest prediction of a student in a module and stores a report of
// the requested type.
func (svc *Service) Generate(ctx context.Context, studentID string, moduleID int64, reportType string) (Report, error) {
	reportType = NormalizeType(reportType)
	if !IsValidType(reportType) {
		return Report{}, core.NewValidationError(nil, core.FieldError{Field: "type", Error: "invalid report type"})
	}

	e, err := svc.explainer.Explain(ctx, core.CleanString(studentID), moduleID)
	if err != nil {
		return Report{}, err
	}
	r, err := Build(e, reportType)
	if err != nil {
		return Report{}, errors.Wrap(err, "building report")
	}
	r, err = svc.repo.CreateReport(ctx, r)
	return r, errors.Wrap(err, "creating report")
}

func (svc *Service) ByStudent(ctx context.Context, studentID, reportType string) ([]Report, error) {
	if reportType != "" {
		reportType = NormalizeType(reportType)
		if !IsValidType(reportType) {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "type", Error: "invalid report type"})
		}
	}
	return svc.repo.QueryReports(ctx, core.CleanString(studentID), reportType)
}

// Build assembles a report of reportType from an explanation carrying its prediction.
func Build(e explanation.Explanation, reportType string) (Report, error) {
	if e.Prediction == nil {
		return Report{}, errors.New("explanation has no prediction")
	}
	pred := *e.Prediction

	var factors []explanation.Factor
	switch reportType {
	case TypeMobile:
		factors = explanation.Top(e.FeatureImportance, 3)
	case TypeDetailed:
		factors = e.FeatureImportance
	default:
		factors = explanation.Top(e.FeatureImportance, 5)
	}

	confidence := pred.ConfidenceScore
	if e.ConfidenceScore != nil {
		confidence = *e.ConfidenceScore
	}
	data := textData{
		StudentID:  e.StudentID,
		ModuleID:   e.ModuleID,
		Success:    pred.SuccessProbability,
		Dropout:    pred.DropoutProbability,
		Confidence: confidence,
		Factors:    factors,
		Positive:   explanation.Positive(factors),
		Negative:   explanation.Negative(factors),
	}

	summaryTmpl := "summary_standard"
	switch reportType {
	case TypeMobile:
		summaryTmpl = "summary_short"
	case TypeDetailed:
		summaryTmpl = "summary_detailed"
	}
	summary, err := render(summaryTmpl, data)
	if err != nil {
		return Report{}, err
	}
	recs, err := recommendations(data, reportType == TypeMobile)
	if err != nil {
		return Report{}, err
	}

	var reportData map[string]interface{}
	switch reportType {
	case TypeMobile:
		reportData = map[string]interface{}{
			"prediction_summary": map[string]interface{}{
				"success_probability": pred.SuccessProbability,
				"dropout_probability": pred.DropoutProbability,
				"risk_level":          pred.RiskLevel,
			},
			"top_3_factors":   factors,
			"summary":         summary,
			"recommendations": recs,
		}
	case TypeDetailed:
		reportData = map[string]interface{}{
			"prediction":         pred,
			"all_factors":        factors,
			"feature_importance": e.FeatureImportance,
			"explanation_data":   e.ExplanationData,
			"summary":            summary,
			"recommendations":    recs,
			"confidence":         confidence,
			"methodology":        Methodology,
		}
	default:
		reportData = map[string]interface{}{
			"prediction":         pred,
			"key_factors":        factors,
			"feature_importance": e.FeatureImportance,
			"summary":            summary,
			"recommendations":    recs,
			"confidence":         confidence,
		}
	}

	now := time.Now().UTC()
	return Report{
		StudentID:       e.StudentID,
		ModuleID:        e.ModuleID,
		ReportType:      reportType,
		ReportData:      reportData,
		Summary:         summary,
		KeyFactors:      factors,
		Recommendations: recs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// recommendations derives the follow-up actions from a prediction and its factors.
// Short lists skip the positive factor and hold at most three entries.
func recommendations(data textData, short bool) ([]Recommendation, error) {
	recs := make([]Recommendation, 0, 4)
	add := func(typ, priority, title string, actions ...string) error {
		desc, err := render(typ, data)
		if err != nil {
			return err
		}
		recs = append(recs, Recommendation{
			Type:        typ,
			Priority:    priority,
			Title:       title,
			Description: desc,
			Actions:     actions,
		})
		return nil
	}

	if data.Dropout > DropoutRiskThreshold {
		err := add(RecHighDropoutRisk, core.SeverityHigh, "High dropout risk",
			"Arrange a meeting with the student",
			"Set up a personalised support plan",
			"Increase weekly follow-up",
		)
		if err != nil {
			return nil, err
		}
	}
	if data.Success < LowSuccessThreshold {
		err := add(RecLowSuccessProbability, core.SeverityMedium, "Low success probability",
			"Reinforce teaching in the weak areas",
			"Offer additional tutoring",
			"Review learning methods",
		)
		if err != nil {
			return nil, err
		}
	}
	if len(data.Negative) > 0 {
		data.Factor = data.Negative[0]
		name := data.Factor.FeatureName
		err := add(RecNegativeFactor, core.SeverityMedium, "Negative factor: "+name,
			"Improve "+name,
			"Analyse the underlying causes",
			"Put corrective actions in place",
		)
		if err != nil {
			return nil, err
		}
	}
	if len(data.Positive) > 0 && !short {
		err := add(RecPositiveFactor, core.SeverityLow, "Positive factors identified",
			"Maintain these positive factors",
			"Replicate these practices in other contexts",
		)
		if err != nil {
			return nil, err
		}
	}

	if short && len(recs) > mobileMaxRecommendation {
		recs = recs[:mobileMaxRecommendation]
	}
	return recs, nil
}
