// Command prediction scores students with the GNN model and tracks trajectories and risk modules.
package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/apps/api"
	echoapi "github.com/abmarghoub/EduPathInsight/apps/api/echo"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/prediction"
	"github.com/abmarghoub/EduPathInsight/ml/gnn"
	"github.com/abmarghoub/EduPathInsight/services/clients"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
)

func main() {
	api.Run(core.ServicePrediction, wire)
}

func wire(ctx context.Context, deps *api.Deps) (api.App, error) {
	conf, logger := deps.Conf, deps.Logger

	model, err := gnn.LoadOrSeed(conf.Model.Path, conf.Model.Version, conf.Model.Seed)
	if err != nil {
		return api.App{}, errors.Wrap(err, "loading model")
	}
	info := model.Info()
	logger.Info(fmt.Sprintf("model %s loaded (%s)", info.Version, info.Source))

	predictionSvc := prediction.NewService(
		sqlxrepos.NewPredictionRepository(deps.DB),
		model,
		clients.NewActivitiesClient(deps.ClientOptions(clients.ServiceActivities), logger),
		deps.Modules(),
		deps.Cache(ctx),
		deps.Publisher(),
		conf,
		logger,
		deps.Validate,
	)

	return api.App{
		Server: echoapi.ServerDeps{PredictionSvc: predictionSvc},
	}, nil
}
