package explanation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/ml/features"
	"github.com/abmarghoub/EduPathInsight/ml/lime"
)

// DefaultTopFactors is the number of factors returned when none is asked.
const DefaultTopFactors = 5

type (
	Repository interface {
		// CreateExplanation stores an explanation along with one FeatureImportance per factor.
		CreateExplanation(ctx context.Context, e Explanation, importances []FeatureImportance) (Explanation, error)
		// QueryExplanations lists the explanations of a student, newest first.
		QueryExplanations(ctx context.Context, studentID string) ([]Explanation, error)
		// FeatureImportances lists the importances of the latest explanation of a student
		// in a module, by decreasing score.
		FeatureImportances(ctx context.Context, studentID string, moduleID int64) ([]FeatureImportance, error)
	}

	// PredictionSource fetches the latest prediction of a student in a module.
	PredictionSource interface {
		Latest(ctx context.Context, studentID string, moduleID int64) (Prediction, error)
	}

	FeatureSource interface {
		Statistics(ctx context.Context, studentID string, moduleID int64) (features.Statistics, error)
	}

	// Model is the function explained.
	Model interface {
		SuccessProbability(x []float64) float64
	}

	Explainer interface {
		Explain(instance []float64, predict lime.PredictFunc) (lime.Explanation, error)
	}

	Service struct {
		repo        Repository
		predictions PredictionSource
		features    FeatureSource
		model       Model
		explainer   Explainer
		logger      core.Logger
	}
)

func NewService(
	repo Repository,
	predictions PredictionSource,
	featureSrc FeatureSource,
	model Model,
	explainer Explainer,
	logger core.Logger,
) *Service {
	return &Service{
		repo:        repo,
		predictions: predictions,
		features:    featureSrc,
		model:       model,
		explainer:   explainer,
		logger:      logger,
	}
}

// Explain explains the success probability of the latest prediction of a student in a
// module and stores the result.
func (svc *Service) Explain(ctx context.Context, studentID string, moduleID int64) (Explanation, error) {
	studentID = core.CleanString(studentID)
	pred, err := svc.predictions.Latest(ctx, studentID, moduleID)
	if err != nil {
		return Explanation{}, errors.Wrap(err, "fetching prediction")
	}
	stats, err := svc.features.Statistics(ctx, studentID, moduleID)
	if err != nil {
		return Explanation{}, errors.Wrap(err, "fetching features")
	}

	vec := features.FromStatistics(stats)
	res, err := svc.explainer.Explain(vec, svc.model.SuccessProbability)
	if err != nil {
		return Explanation{}, errors.Wrap(err, "explaining prediction")
	}

	now := time.Now().UTC()
	e := Explanation{
		StudentID:         studentID,
		ModuleID:          moduleID,
		ExplanationType:   TypeLIME,
		ExplanationData:   make(map[string]float64, len(res.Weights)),
		FeatureImportance: make([]Factor, 0, len(res.Weights)),
		CreatedAt:         now,
	}
	if pred.ID != "" {
		id := pred.ID
		e.PredictionID = &id
	}
	local := core.Round(res.LocalPrediction, 6)
	confidence := pred.ConfidenceScore
	e.LocalPrediction, e.ConfidenceScore = &local, &confidence

	importances := make([]FeatureImportance, 0, len(res.Weights))
	for _, w := range res.Weights {
		score := core.Round(w.Weight, 6)
		value := w.Value
		f := Factor{
			FeatureName:     w.Name,
			ImportanceScore: score,
			FeatureValue:    value,
			ImpactDirection: Impact(score),
		}
		e.ExplanationData[w.Name] = score
		e.FeatureImportance = append(e.FeatureImportance, f)
		importances = append(importances, FeatureImportance{
			StudentID:       studentID,
			ModuleID:        moduleID,
			FeatureName:     f.FeatureName,
			ImportanceScore: f.ImportanceScore,
			FeatureValue:    &value,
			ImpactDirection: f.ImpactDirection,
			CreatedAt:       now,
		})
	}

	if e, err = svc.repo.CreateExplanation(ctx, e, importances); err != nil {
		return Explanation{}, errors.Wrap(err, "creating explanation")
	}
	e.Prediction = &pred
	return e, nil
}

func (svc *Service) ByStudent(ctx context.Context, studentID string) ([]Explanation, error) {
	return svc.repo.QueryExplanations(ctx, core.CleanString(studentID))
}

// FeatureImportance returns the feature importances of the latest explanation, by decreasing score.
func (svc *Service) FeatureImportance(ctx context.Context, studentID string, moduleID int64) ([]FeatureImportance, error) {
	return svc.repo.FeatureImportances(ctx, core.CleanString(studentID), moduleID)
}

// TopFactors returns the n most influent features, whatever their direction.
func (svc *Service) TopFactors(ctx context.Context, studentID string, moduleID int64, n int) ([]FeatureImportance, error) {
	fis, err := svc.FeatureImportance(ctx, studentID, moduleID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(fis, func(i, j int) bool {
		return math.Abs(fis[i].ImportanceScore) > math.Abs(fis[j].ImportanceScore)
	})
	if n <= 0 {
		n = DefaultTopFactors
	}
	if n < len(fis) {
		fis = fis[:n]
	}
	return fis, nil
}
