// Command activities serves presences, activities and anomaly detection.
package main

import (
	"context"
	"fmt"

	"github.com/abmarghoub/EduPathInsight/apps/api"
	echoapi "github.com/abmarghoub/EduPathInsight/apps/api/echo"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
)

func main() {
	api.Run(core.ServiceActivities, wire)
}

func wire(_ context.Context, deps *api.Deps) (api.App, error) {
	conf, logger := deps.Conf, deps.Logger
	modules := deps.Modules()
	publisher := deps.Publisher()

	presenceSvc := presence.NewService(sqlxrepos.NewPresenceRepository(deps.DB), modules, publisher, conf, logger, deps.Validate, deps.Translator)
	activitySvc := activity.NewService(sqlxrepos.NewActivityRepository(deps.DB), modules, publisher, conf, logger, deps.Validate, deps.Translator)
	anomalySvc := anomaly.NewService(sqlxrepos.NewAnomalyRepository(deps.DB), presenceSvc, activitySvc, publisher, conf, logger)

	sweep := func(ctx context.Context) error {
		res, err := anomalySvc.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info(
			fmt.Sprintf("anomaly sweep: %d checked, %d created", res.Checked, res.Created),
			map[string]interface{}{"detected": res.Detected, "failed": res.Failed},
		)
		return nil
	}

	app := api.App{
		Server: echoapi.ServerDeps{
			PresenceSvc: presenceSvc,
			ActivitySvc: activitySvc,
			AnomalySvc:  anomalySvc,
		},
	}
	if conf.Anomaly.SweepSchedule != "" {
		app.Workers = append(app.Workers, api.CronWorker(conf.Anomaly.SweepSchedule, "anomaly sweep", logger, sweep))
	}
	return app, nil
}
