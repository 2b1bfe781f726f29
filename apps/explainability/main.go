// Command explainability explains predictions with LIME and renders reports from them.
package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/apps/api"
	echoapi "github.com/abmarghoub/EduPathInsight/apps/api/echo"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/explanation"
	"github.com/abmarghoub/EduPathInsight/core/report"
	"github.com/abmarghoub/EduPathInsight/ml/features"
	"github.com/abmarghoub/EduPathInsight/ml/gnn"
	"github.com/abmarghoub/EduPathInsight/ml/lime"
	"github.com/abmarghoub/EduPathInsight/services/clients"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
)

func main() {
	api.Run(core.ServiceExplainability, wire)
}

func wire(_ context.Context, deps *api.Deps) (api.App, error) {
	conf, logger := deps.Conf, deps.Logger

	// the same weights as the prediction service, so that explanations match its scores
	model, err := gnn.LoadOrSeed(conf.Model.Path, conf.Model.Version, conf.Model.Seed)
	if err != nil {
		return api.App{}, errors.Wrap(err, "loading model")
	}
	explainer := lime.New(features.Names, lime.WithSamples(conf.Explainer.Samples), lime.WithSeed(conf.Explainer.Seed))

	explanationSvc := explanation.NewService(
		sqlxrepos.NewExplanationRepository(deps.DB),
		clients.NewPredictionClient(deps.ClientOptions(clients.ServicePrediction), logger),
		clients.NewActivitiesClient(deps.ClientOptions(clients.ServiceActivities), logger),
		model,
		explainer,
		logger,
	)
	reportSvc := report.NewService(sqlxrepos.NewReportRepository(deps.DB), explanationSvc, logger)

	return api.App{
		Server: echoapi.ServerDeps{
			ExplanationSvc: explanationSvc,
			ReportSvc:      reportSvc,
		},
	}, nil
}
