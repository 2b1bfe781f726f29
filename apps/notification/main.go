// Command notification turns broker events into alerts and emails staff about the serious ones.
// Enrollment changes are sent to the student as notifications.
package main

import (
	"context"

	"github.com/abmarghoub/EduPathInsight/apps/api"
	echoapi "github.com/abmarghoub/EduPathInsight/apps/api/echo"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/notification"
	pushsvc "github.com/abmarghoub/EduPathInsight/services/push"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
)

func main() {
	api.Run(core.ServiceNotification, wire)
}

func wire(_ context.Context, deps *api.Deps) (api.App, error) {
	notificationSvc := notification.NewService(
		sqlxrepos.NewAlertRepository(deps.DB),
		sqlxrepos.NewNotificationRepository(deps.DB),
		deps.EmailService(),
		pushsvc.NewConsoleService(deps.Logger),
		deps.Conf,
		deps.Logger,
		deps.Validate,
	)
	consumer := deps.Consumer()

	return api.App{
		Server: echoapi.ServerDeps{NotificationSvc: notificationSvc},
		Workers: []api.Worker{
			func(ctx context.Context) error {
				return consumer.Consume(ctx, notificationSvc.Handle)
			},
		},
	}, nil
}
