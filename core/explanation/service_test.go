package explanation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/explanation"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/ml/features"
	"github.com/abmarghoub/EduPathInsight/ml/lime"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
	testutil "github.com/abmarghoub/EduPathInsight/tests"
)

type stubPredictions map[string]explanation.Prediction

func (s stubPredictions) Latest(_ context.Context, studentID string, _ int64) (explanation.Prediction, error) {
	p, ok := s[studentID]
	if !ok {
		return explanation.Prediction{}, core.NotFoundError{Resource: "prediction"}
	}
	return p, nil
}

type stubFeatures struct{}

func (stubFeatures) Statistics(_ context.Context, studentID string, moduleID int64) (features.Statistics, error) {
	return features.Statistics{
		StudentID: studentID,
		ModuleID:  moduleID,
		PresenceStatistics: presence.Statistics{
			TotalSessions: 10, Present: 6, Absent: 2, Late: 2,
		},
	}, nil
}

type linearModel struct{}

func (linearModel) SuccessProbability(x []float64) float64 {
	return 0.2 + 0.5*x[0] - 0.3*x[2]
}

// stubExplainer returns fixed weights, checking it explains the model at the instance.
type stubExplainer struct {
	t       *testing.T
	weights []lime.FeatureWeight
}

func (s stubExplainer) Explain(instance []float64, predict lime.PredictFunc) (lime.Explanation, error) {
	assert.Equal(s.t, features.Count, len(instance))
	return lime.Explanation{
		Weights:         s.weights,
		LocalPrediction: 0.4812345678,
		ModelPrediction: predict(instance),
	}, nil
}

func newService(t *testing.T, explainer explanation.Explainer) *explanation.Service {
	repo := sqlxrepos.NewExplanationRepository(testutil.PrepareDB(t, core.ServiceExplainability))
	preds := stubPredictions{
		"s1": {ID: "p1", StudentID: "s1", ModuleID: 3, SuccessProbability: 0.48, DropoutProbability: 0.3, RiskLevel: "HIGH", ConfidenceScore: 0.75},
	}
	return explanation.NewService(repo, preds, stubFeatures{}, linearModel{}, explainer, &testutil.Logger{})
}

func TestService_Explain(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, stubExplainer{t: t, weights: []lime.FeatureWeight{
		{Name: features.PresenceRate, Value: 0.6, Weight: 0.1500004},
		{Name: features.LateRate, Value: 0.2, Weight: -0.09},
		{Name: features.AbsenceRate, Value: 0.2, Weight: -0.04},
		{Name: features.SessionVolume, Value: 0.5, Weight: 0.0000001},
	}})

	e, err := svc.Explain(ctx, " s1 ", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "s1", e.StudentID)
	assert.Equal(t, explanation.TypeLIME, e.ExplanationType)
	assert.Equal(t, "p1", *e.PredictionID)
	assert.Equal(t, 0.481235, *e.LocalPrediction)
	assert.Equal(t, 0.75, *e.ConfidenceScore)
	require.NotNil(t, e.Prediction)
	assert.Equal(t, 0.48, e.Prediction.SuccessProbability)

	assert.Equal(t, map[string]float64{
		features.PresenceRate:  0.15,
		features.LateRate:      -0.09,
		features.AbsenceRate:   -0.04,
		features.SessionVolume: 0,
	}, e.ExplanationData)
	assert.Equal(t, []explanation.Factor{
		{FeatureName: features.PresenceRate, ImportanceScore: 0.15, FeatureValue: 0.6, ImpactDirection: explanation.ImpactPositive},
		{FeatureName: features.LateRate, ImportanceScore: -0.09, FeatureValue: 0.2, ImpactDirection: explanation.ImpactNegative},
		{FeatureName: features.AbsenceRate, ImportanceScore: -0.04, FeatureValue: 0.2, ImpactDirection: explanation.ImpactNegative},
		{FeatureName: features.SessionVolume, ImportanceScore: 0, FeatureValue: 0.5, ImpactDirection: explanation.ImpactNeutral},
	}, e.FeatureImportance)

	t.Run("feature importance", func(t *testing.T) {
		fis, err := svc.FeatureImportance(ctx, "s1", 3)
		require.NoError(t, err)
		names := make([]string, len(fis))
		for i, fi := range fis {
			names[i] = fi.FeatureName
		}
		assert.Equal(t, []string{features.PresenceRate, features.SessionVolume, features.AbsenceRate, features.LateRate}, names)
	})

	t.Run("top factors", func(t *testing.T) {
		top, err := svc.TopFactors(ctx, "s1", 3, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, features.PresenceRate, top[0].FeatureName)
		assert.Equal(t, features.LateRate, top[1].FeatureName)

		all, err := svc.TopFactors(ctx, "s1", 3, 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("history", func(t *testing.T) {
		list, err := svc.ByStudent(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, e.ID, list[0].ID)
		assert.Nil(t, list[0].Prediction)
	})

	t.Run("never explained", func(t *testing.T) {
		fis, err := svc.FeatureImportance(ctx, "s1", 99)
		require.NoError(t, err)
		assert.Empty(t, fis)
	})

	t.Run("unknown prediction", func(t *testing.T) {
		_, err := svc.Explain(ctx, "nobody", 3)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_Explain_lime(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, lime.New(features.Names, lime.WithSamples(500), lime.WithSeed(3)))

	e, err := svc.Explain(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, e.FeatureImportance, features.Count)
	assert.Equal(t, features.PresenceRate, e.FeatureImportance[0].FeatureName)
	assert.Equal(t, explanation.ImpactPositive, e.FeatureImportance[0].ImpactDirection)
	assert.Equal(t, features.LateRate, e.FeatureImportance[1].FeatureName)
	assert.Equal(t, explanation.ImpactNegative, e.FeatureImportance[1].ImpactDirection)
	assert.InDelta(t, 0.2+0.5*0.6-0.3*0.2, *e.LocalPrediction, 0.05)
}

func TestTop(t *testing.T) {
	factors := []explanation.Factor{
		{FeatureName: "a", ImportanceScore: 0.3, ImpactDirection: explanation.ImpactPositive},
		{FeatureName: "b", ImportanceScore: -0.2, ImpactDirection: explanation.ImpactNegative},
		{FeatureName: "c", ImportanceScore: 0.1, ImpactDirection: explanation.ImpactPositive},
		{FeatureName: "d", ImportanceScore: 0, ImpactDirection: explanation.ImpactNeutral},
	}
	assert.Equal(t, factors[:2], explanation.Top(factors, 2))
	assert.Equal(t, factors, explanation.Top(factors, 0))
	assert.Equal(t, factors, explanation.Top(factors, 10))
	assert.Equal(t, []explanation.Factor{factors[0], factors[2]}, explanation.Positive(factors))
	assert.Equal(t, []explanation.Factor{factors[1]}, explanation.Negative(factors))
	assert.Empty(t, explanation.Negative(nil))
}

func TestImpact(t *testing.T) {
	assert.Equal(t, explanation.ImpactPositive, explanation.Impact(0.000001))
	assert.Equal(t, explanation.ImpactNegative, explanation.Impact(-0.2))
	assert.Equal(t, explanation.ImpactNeutral, explanation.Impact(0))
}
