package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/ml/features"
	"github.com/abmarghoub/EduPathInsight/ml/gnn"
)

// ErrTrajectoryNotFound is returned when no trajectory was built yet.
var ErrTrajectoryNotFound = core.NotFoundError{Resource: "trajectory"}

type (
	Repository interface {
		CreatePrediction(ctx context.Context, p Prediction) (Prediction, error)
		// QueryPredictions applies AND operation on available QueryFilter fields, newest first.
		QueryPredictions(ctx context.Context, filter QueryFilter) ([]Prediction, error)
		// LatestPredictions returns the newest prediction of every (student, module) pair.
		LatestPredictions(ctx context.Context) ([]Prediction, error)
		GetTrajectory(ctx context.Context, studentID string, moduleID int64) (Trajectory, error)
		CreateTrajectory(ctx context.Context, t Trajectory) (Trajectory, error)
		UpsertRiskModule(ctx context.Context, rm RiskModule) (RiskModule, error)
	}

	// Model scores a feature vector.
	Model interface {
		Predict(v features.Vector) gnn.Output
		Info() gnn.Info
	}

	// FeatureSource provides the recorded statistics of a student in a module.
	FeatureSource interface {
		Statistics(ctx context.Context, studentID string, moduleID int64) (features.Statistics, error)
	}

	Service struct {
		repo           Repository
		model          Model
		features       FeatureSource
		modules        core.ModuleDirectory
		cache          core.Cache
		cacheTTL       time.Duration
		publisher      core.Publisher
		routingKey     string
		alertThreshold float64
		logger         core.Logger
		validate       *validator.Validate
	}

	ModelStatus struct {
		Status string `json:"status"`
		gnn.Info
	}
)

func NewService(
	repo Repository,
	model Model,
	featureSrc FeatureSource,
	modules core.ModuleDirectory,
	cache core.Cache,
	publisher core.Publisher,
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
) *Service {
	ttl := conf.Cache.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		repo:           repo,
		model:          model,
		features:       featureSrc,
		modules:        modules,
		cache:          cache,
		cacheTTL:       ttl,
		publisher:      publisher,
		routingKey:     conf.Broker.PredictionRoutingKey,
		alertThreshold: conf.Prediction.RiskModuleAlertThreshold,
		logger:         logger,
		validate:       validate,
	}
}

func cacheKey(studentID string, moduleID int64) string {
	return fmt.Sprintf("prediction:%s:%d", studentID, moduleID)
}

// Predict scores a student in a module. A cached result less than the cache TTL old is
// returned as is when the request allows it.
func (svc *Service) Predict(ctx context.Context, req PredictRequest) (Prediction, error) {
	if err := req.Validate(svc.validate); err != nil {
		return Prediction{}, err
	}

	key := cacheKey(req.StudentID, req.ModuleID)
	useCache := req.useCache() && svc.cache != nil
	if useCache {
		if p, ok := svc.cached(ctx, key); ok {
			return p, nil
		}
	}

	stats, err := svc.features.Statistics(ctx, req.StudentID, req.ModuleID)
	if err != nil {
		return Prediction{}, errors.Wrap(err, "fetching features")
	}
	vec := features.FromStatistics(stats)
	out := svc.model.Predict(vec)
	grade := core.Round(out.Grade, 2)

	now := time.Now().UTC()
	p, err := svc.repo.CreatePrediction(ctx, Prediction{
		StudentID:          req.StudentID,
		ModuleID:           req.ModuleID,
		SuccessProbability: core.Round(out.Success, 4),
		DropoutProbability: core.Round(out.Dropout, 4),
		RiskLevel:          gnn.RiskLevel(out.Success, out.Dropout),
		PredictedGrade:     &grade,
		ConfidenceScore:    core.Round(out.Confidence, 4),
		Features:           vec.Map(),
		ModelVersion:       svc.model.Info().Version,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return Prediction{}, errors.Wrap(err, "creating prediction")
	}

	if useCache {
		svc.store(ctx, key, p)
	}
	if isHighRisk(p.RiskLevel) {
		core.PublishEvent(ctx, svc.publisher, svc.logger, svc.routingKey, core.EventHighRiskStudent, core.HighRiskStudent{
			StudentID:          p.StudentID,
			ModuleID:           p.ModuleID,
			RiskLevel:          p.RiskLevel,
			SuccessProbability: p.SuccessProbability,
			DropoutProbability: p.DropoutProbability,
		})
	}
	return p, nil
}

func (svc *Service) cached(ctx context.Context, key string) (Prediction, bool) {
	data, err := svc.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrCacheMiss) {
			svc.logger.Warn("reading cached prediction "+key, err)
		}
		return Prediction{}, false
	}
	var p Prediction
	if err = json.Unmarshal(data, &p); err != nil {
		svc.logger.Warn("decoding cached prediction "+key, err)
		return Prediction{}, false
	}
	return p, true
}

func (svc *Service) store(ctx context.Context, key string, p Prediction) {
	data, err := json.Marshal(p)
	if err == nil {
		err = svc.cache.Set(ctx, key, data, svc.cacheTTL)
	}
	if err != nil {
		svc.logger.Warn("caching prediction "+key, err)
	}
}

func (svc *Service) ByStudent(ctx context.Context, studentID string) ([]Prediction, error) {
	return svc.repo.QueryPredictions(ctx, QueryFilter{StudentID: core.CleanString(studentID)})
}

// Latest returns the newest prediction of a student in a module, predicting one if none exists.
func (svc *Service) Latest(ctx context.Context, studentID string, moduleID int64) (Prediction, error) {
	preds, err := svc.repo.QueryPredictions(ctx, QueryFilter{StudentID: studentID, ModuleID: &moduleID})
	if err != nil {
		return Prediction{}, errors.Wrap(err, "querying predictions")
	}
	if len(preds) > 0 {
		return preds[0], nil
	}
	return svc.Predict(ctx, PredictRequest{StudentID: studentID, ModuleID: moduleID})
}

// Trajectory returns the stored trajectory of a student in a module or builds it.
func (svc *Service) Trajectory(ctx context.Context, studentID string, moduleID int64) (Trajectory, error) {
	t, err := svc.repo.GetTrajectory(ctx, studentID, moduleID)
	if err == nil {
		return t, nil
	}
	if !core.IsNotFound(err) {
		return Trajectory{}, errors.Wrap(err, "fetching trajectory")
	}

	p, err := svc.Predict(ctx, PredictRequest{StudentID: studentID, ModuleID: moduleID})
	if err != nil {
		return Trajectory{}, err
	}
	t = BuildTrajectory(p, time.Now().UTC())
	t, err = svc.repo.CreateTrajectory(ctx, t)
	return t, errors.Wrap(err, "creating trajectory")
}

// BuildTrajectory projects a prediction over the rest of the term starting at now.
func BuildTrajectory(p Prediction, now time.Time) Trajectory {
	day := core.DateOf(now)
	milestone := func(name string, days int, prob float64) Milestone {
		return Milestone{
			Milestone:   name,
			Date:        core.DateOf(day.AddDate(0, 0, days)),
			Probability: core.Round(prob, 4),
		}
	}
	gap := 1 - p.SuccessProbability
	milestones := []Milestone{
		milestone("First assessment", 30, 1-gap/3),
		milestone("Second assessment", 75, 1-gap*2/3),
		milestone("Final exam", 120, p.SuccessProbability),
	}

	data := TrajectoryData{
		CurrentProgress:  core.Round(p.Features[features.PresenceRate], 4),
		ExpectedProgress: ExpectedProgress,
		Milestones:       milestones,
		RiskFactors:      riskFactors(p),
	}
	if p.DropoutProbability <= 0.4 {
		end := milestones[len(milestones)-1].Date
		data.PredictedCompletionDate = &end
	}

	var predictionID *string
	if p.ID != "" {
		id := p.ID
		predictionID = &id
	}
	return Trajectory{
		StudentID:       p.StudentID,
		ModuleID:        p.ModuleID,
		PredictionID:    predictionID,
		Data:            data,
		Milestones:      milestones,
		Recommendations: Recommendations(p.SuccessProbability, p.DropoutProbability),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func riskFactors(p Prediction) []string {
	factors := make([]string, 0)
	f := p.Features
	if f[features.SessionVolume] > 0 && f[features.PresenceRate] < 0.7 {
		factors = append(factors, FactorLowPresence)
	}
	if f[features.LateRate] > 0.2 {
		factors = append(factors, FactorFrequentLateness)
	}
	if f[features.ActivityVolume] > 0 && f[features.CompletionRate] < 0.5 {
		factors = append(factors, FactorLowCompletion)
	}
	if f[features.ActivityVolume] > 0 && f[features.ParticipationScore] < 0.5 {
		factors = append(factors, FactorLowParticipation)
	}
	if p.DropoutProbability > 0.4 {
		factors = append(factors, FactorHighDropout)
	}
	return factors
}

// Recommendations returns the follow-up actions suggested by a prediction.
func Recommendations(success, dropout float64) []Recommendation {
	recs := make([]Recommendation, 0, 2)
	if dropout > 0.4 {
		recs = append(recs, Recommendation{
			Type:    RecommendationHighDropoutRisk,
			Message: "High dropout risk detected",
			Actions: []string{"Increase follow-up", "Organize support sessions"},
		})
	}
	if success < 0.5 {
		recs = append(recs, Recommendation{
			Type:    RecommendationLowSuccessProbability,
			Message: "Low probability of success",
			Actions: []string{"Reinforce courses", "Offer tutoring"},
		})
	}
	return recs
}

// RiskModules aggregates the latest prediction of every student per module, stores the
// result and returns it by decreasing risk score.
func (svc *Service) RiskModules(ctx context.Context) ([]RiskModule, error) {
	preds, err := svc.repo.LatestPredictions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying latest predictions")
	}

	byModule := make(map[int64][]Prediction)
	var moduleIDs []int64
	for _, p := range preds {
		if _, ok := byModule[p.ModuleID]; !ok {
			moduleIDs = append(moduleIDs, p.ModuleID)
		}
		byModule[p.ModuleID] = append(byModule[p.ModuleID], p)
	}

	now := time.Now().UTC()
	modules := make([]RiskModule, 0, len(moduleIDs))
	for _, id := range moduleIDs {
		rm := aggregate(id, byModule[id], now)
		mod := svc.moduleInfo(ctx, id)
		rm.ModuleCode, rm.ModuleName = mod.Code, mod.Name

		if rm, err = svc.repo.UpsertRiskModule(ctx, rm); err != nil {
			return nil, errors.Wrap(err, "saving risk module")
		}
		if rm.RiskScore > svc.alertThreshold {
			core.PublishEvent(ctx, svc.publisher, svc.logger, svc.routingKey, core.EventRiskModule, core.RiskModule{
				ModuleID:       rm.ModuleID,
				RiskScore:      rm.RiskScore,
				AtRiskStudents: rm.AtRiskStudents,
				TotalStudents:  rm.TotalStudents,
				AverageSuccess: rm.AverageSuccess,
				AverageDropout: rm.AverageDropout,
			})
		}
		modules = append(modules, rm)
	}

	sort.SliceStable(modules, func(i, j int) bool {
		return modules[i].RiskScore > modules[j].RiskScore
	})
	return modules, nil
}

func aggregate(moduleID int64, preds []Prediction, now time.Time) RiskModule {
	var sumSuccess, sumDropout float64
	var atRisk int
	for _, p := range preds {
		sumSuccess += p.SuccessProbability
		sumDropout += p.DropoutProbability
		if isHighRisk(p.RiskLevel) {
			atRisk++
		}
	}
	n := float64(len(preds))
	avgSuccess, avgDropout := sumSuccess/n, sumDropout/n

	factors := make([]string, 0)
	if avgDropout > 0.4 {
		factors = append(factors, FactorHighDropout)
	}
	if atRisk*2 > len(preds) {
		factors = append(factors, FactorMajorityAtRisk)
	}

	return RiskModule{
		ModuleID:       moduleID,
		RiskScore:      core.Round((1-avgSuccess)*0.6+avgDropout*0.4, 4),
		AtRiskStudents: atRisk,
		TotalStudents:  len(preds),
		AverageSuccess: core.Round(avgSuccess, 4),
		AverageDropout: core.Round(avgDropout, 4),
		RiskFactors:    factors,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// moduleInfo falls back to generated labels when the module service cannot tell.
func (svc *Service) moduleInfo(ctx context.Context, id int64) core.ModuleInfo {
	fallback := core.ModuleInfo{ID: id, Code: fmt.Sprintf("MOD%d", id), Name: fmt.Sprintf("Module %d", id)}
	if svc.modules == nil {
		return fallback
	}
	mod, err := svc.modules.GetModule(ctx, id)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("fetching module %d", id), err)
		return fallback
	}
	if mod.Code == "" {
		mod.Code = fallback.Code
	}
	if mod.Name == "" {
		mod.Name = fallback.Name
	}
	return mod
}

func (svc *Service) ModelStatus() ModelStatus {
	return ModelStatus{Status: "ready", Info: svc.model.Info()}
}

func isHighRisk(level string) bool {
	return level == gnn.RiskHigh || level == gnn.RiskCritical
}
