package report_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/explanation"
	"github.com/abmarghoub/EduPathInsight/core/report"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
	testutil "github.com/abmarghoub/EduPathInsight/tests"
)

func factor(name string, score float64) explanation.Factor {
	return explanation.Factor{FeatureName: name, ImportanceScore: score, FeatureValue: 0.5, ImpactDirection: explanation.Impact(score)}
}

func newExplanation(success, dropout float64) explanation.Explanation {
	confidence := 0.75
	return explanation.Explanation{
		ID:              "e1",
		StudentID:       "s1",
		ModuleID:        3,
		ExplanationType: explanation.TypeLIME,
		ConfidenceScore: &confidence,
		FeatureImportance: []explanation.Factor{
			factor("presence_rate", 0.15),
			factor("late_rate", -0.09),
			factor("absence_rate", -0.04),
			factor("completion_rate", 0.03),
			factor("excused_rate", 0.02),
			factor("session_volume", 0),
		},
		ExplanationData: map[string]float64{"presence_rate": 0.15},
		Prediction: &explanation.Prediction{
			ID:                 "p1",
			StudentID:          "s1",
			ModuleID:           3,
			SuccessProbability: success,
			DropoutProbability: dropout,
			RiskLevel:          core.SeverityHigh,
			ConfidenceScore:    0.6,
		},
	}
}

func recTypes(recs []report.Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Type
	}
	return out
}

func TestBuild(t *testing.T) {
	e := newExplanation(0.42, 0.45)

	t.Run("dashboard", func(t *testing.T) {
		r, err := report.Build(e, report.TypeDashboard)
		require.NoError(t, err)
		assert.Equal(t, report.TypeDashboard, r.ReportType)
		assert.Len(t, r.KeyFactors, 5)
		assert.Equal(t, "Prediction analysis for student s1 in module 3. "+
			"Success probability: 42.0%, dropout probability: 45.0%. "+
			"Positive factors: presence_rate, completion_rate. "+
			"Negative factors: late_rate, absence_rate.", r.Summary)

		require.Len(t, r.Recommendations, 4)
		assert.Equal(t, []string{
			report.RecHighDropoutRisk, report.RecLowSuccessProbability, report.RecNegativeFactor, report.RecPositiveFactor,
		}, recTypes(r.Recommendations))
		assert.Equal(t, report.Recommendation{
			Type:        report.RecHighDropoutRisk,
			Priority:    core.SeverityHigh,
			Title:       "High dropout risk",
			Description: "The dropout probability is high (45.0%). Immediate action is recommended.",
			Actions: []string{
				"Arrange a meeting with the student",
				"Set up a personalised support plan",
				"Increase weekly follow-up",
			},
		}, r.Recommendations[0])
		assert.Equal(t, "Current factors suggest a low success probability (42.0%).", r.Recommendations[1].Description)
		assert.Equal(t, "Negative factor: late_rate", r.Recommendations[2].Title)
		assert.Equal(t, "This factor lowers the prediction (score: -0.090).", r.Recommendations[2].Description)
		assert.Equal(t, core.SeverityLow, r.Recommendations[3].Priority)
		assert.Equal(t, "Some factors contribute positively to the prediction (presence_rate, completion_rate).",
			r.Recommendations[3].Description)

		assert.Equal(t, 0.75, r.ReportData["confidence"], "the explanation confidence wins")
		assert.Equal(t, r.Summary, r.ReportData["summary"])
	})

	t.Run("mobile", func(t *testing.T) {
		r, err := report.Build(e, report.TypeMobile)
		require.NoError(t, err)
		assert.Equal(t, "Success probability: 42.0%. Key factors: presence_rate, late_rate, absence_rate.", r.Summary)
		assert.Len(t, r.KeyFactors, 3)
		assert.Equal(t, []string{
			report.RecHighDropoutRisk, report.RecLowSuccessProbability, report.RecNegativeFactor,
		}, recTypes(r.Recommendations))
		assert.Contains(t, r.ReportData, "prediction_summary")
		assert.Contains(t, r.ReportData, "top_3_factors")
		assert.NotContains(t, r.ReportData, "feature_importance")
	})

	t.Run("detailed", func(t *testing.T) {
		r, err := report.Build(e, report.TypeDetailed)
		require.NoError(t, err)
		assert.Len(t, r.KeyFactors, 6)
		assert.Equal(t, "Prediction analysis for student s1 in module 3. "+
			"Success probability: 42.0%, dropout probability: 45.0%. "+
			"Positive factors: presence_rate, completion_rate. "+
			"Negative factors: late_rate, absence_rate. "+
			"Model confidence: 75.0%. Analysis based on 6 identified factors.", r.Summary)
		assert.Equal(t, report.Methodology, r.ReportData["methodology"])
		assert.Equal(t, e.ExplanationData, r.ReportData["explanation_data"])
	})

	t.Run("healthy student", func(t *testing.T) {
		healthy := newExplanation(0.85, 0.1)
		healthy.FeatureImportance = []explanation.Factor{factor("presence_rate", 0.2)}
		r, err := report.Build(healthy, report.TypeDashboard)
		require.NoError(t, err)
		assert.Equal(t, "Prediction analysis for student s1 in module 3. "+
			"Success probability: 85.0%, dropout probability: 10.0%. "+
			"Positive factors: presence_rate.", r.Summary)
		assert.Equal(t, []string{report.RecPositiveFactor}, recTypes(r.Recommendations))

		r, err = report.Build(healthy, report.TypeMobile)
		require.NoError(t, err)
		assert.Empty(t, r.Recommendations)
	})

	t.Run("no prediction", func(t *testing.T) {
		_, err := report.Build(explanation.Explanation{StudentID: "s1"}, report.TypeDashboard)
		assert.EqualError(t, err, "explanation has no prediction")
	})
}

type stubExplainer struct {
	e     explanation.Explanation
	calls int
}

func (s *stubExplainer) Explain(_ context.Context, studentID string, moduleID int64) (explanation.Explanation, error) {
	s.calls++
	if studentID != s.e.StudentID || moduleID != s.e.ModuleID {
		return explanation.Explanation{}, core.NotFoundError{Resource: "prediction"}
	}
	return s.e, nil
}

func TestService(t *testing.T) {
	ctx := context.Background()
	explainer := &stubExplainer{e: newExplanation(0.42, 0.45)}
	repo := sqlxrepos.NewReportRepository(testutil.PrepareDB(t, core.ServiceExplainability))
	svc := report.NewService(repo, explainer, &testutil.Logger{})

	dashboard, err := svc.Generate(ctx, "s1", 3, "")
	require.NoError(t, err)
	assert.NotEmpty(t, dashboard.ID)
	assert.Equal(t, report.TypeDashboard, dashboard.ReportType)

	mobile, err := svc.Generate(ctx, " s1 ", 3, "mobile")
	require.NoError(t, err)
	assert.Equal(t, report.TypeMobile, mobile.ReportType)
	assert.Len(t, mobile.ReportData["top_3_factors"], 3)

	_, err = svc.Generate(ctx, "s1", 3, "poster")
	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, 2, explainer.calls, "invalid types are rejected before explaining")

	_, err = svc.Generate(ctx, "s2", 3, report.TypeDetailed)
	assert.True(t, core.IsNotFound(err))

	all, err := svc.ByStudent(ctx, "s1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyMobile, err := svc.ByStudent(ctx, "s1", "Mobile")
	require.NoError(t, err)
	require.Len(t, onlyMobile, 1)
	assert.Equal(t, mobile.ID, onlyMobile[0].ID)

	_, err = svc.ByStudent(ctx, "s1", "poster")
	assert.ErrorAs(t, err, &vErr)
}

func TestGenerateRequest_Validate(t *testing.T) {
	validate, _ := testutil.NewValidator()

	gr := report.GenerateRequest{StudentID: "s1", ModuleID: 3}
	require.NoError(t, gr.Validate(validate))
	assert.Equal(t, report.TypeDashboard, gr.ReportType)

	gr = report.GenerateRequest{StudentID: "s1", ModuleID: 3, ReportType: "poster"}
	assert.Error(t, gr.Validate(validate))
}
