package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core/notification"
)

type notificationApi struct {
	svc      *notification.Service
	validate *validator.Validate
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *notification.Service, validate *validator.Validate) {
	api := notificationApi{svc: svc, validate: validate}
	staff := staffMiddleware()

	ag := g.Group("/notifications/alerts", jwt)
	ag.GET("", api.query, staff)
	ag.POST("", api.create, staff)
	ag.GET("/recipient/:recipient_id", api.byRecipient)
	ag.GET("/:id", api.retrieve)
	ag.PUT("/:id", api.applyAction)

	ng := g.Group("/notifications", jwt)
	ng.POST("", api.notify, staff)
	ng.GET("/recipient/:recipient_id", api.recipientNotifications(false))
	ng.GET("/recipient/:recipient_id/unread", api.recipientNotifications(true))
	ng.GET("/:id", api.retrieveNotification)
	ng.PUT("/:id/read", api.markRead)
}

func (api *notificationApi) query(ctx echo.Context) error {
	filter := notification.QueryFilter{
		RecipientID: ctx.QueryParam("recipient_id"),
		Status:      ctx.QueryParam("status"),
		Severity:    ctx.QueryParam("severity"),
	}
	alerts, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying alerts")
	}
	return ctx.JSON(http.StatusOK, alerts)
}

func (api *notificationApi) create(ctx echo.Context) error {
	var data notification.CreateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CreateRequest")
	}
	a, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *notificationApi) byRecipient(ctx echo.Context) error {
	recipientID := ctx.Param("recipient_id")
	if err := canAccessStudent(ctx, recipientID); err != nil {
		return err
	}
	unreadOnly, err := queryBool(ctx, "unread_only")
	if err != nil {
		return err
	}
	alerts, err := api.svc.ByRecipient(ctx.Request().Context(), recipientID, unreadOnly != nil && *unreadOnly)
	if err != nil {
		return errors.Wrap(err, "querying alerts")
	}
	return ctx.JSON(http.StatusOK, alerts)
}

// getAlert fetches the :id alert, hiding it from anyone but staff and its recipient.
func (api *notificationApi) getAlert(ctx echo.Context) (notification.Alert, error) {
	a, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return a, err
	}
	if err = canAccessStudent(ctx, a.RecipientID); err != nil {
		return notification.Alert{}, errHttpNotFound
	}
	return a, nil
}

func (api *notificationApi) retrieve(ctx echo.Context) error {
	a, err := api.getAlert(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *notificationApi) applyAction(ctx echo.Context) error {
	var data notification.ActionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ActionRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.getAlert(ctx)
	if err != nil {
		return err
	}
	if a, err = api.svc.Apply(ctx.Request().Context(), a.ID, data.Action); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *notificationApi) notify(ctx echo.Context) error {
	var data notification.NewNotification
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNotification")
	}
	n, err := api.svc.Notify(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, n)
}

func (api *notificationApi) recipientNotifications(unreadOnly bool) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		recipientID := ctx.Param("recipient_id")
		if err := canAccessStudent(ctx, recipientID); err != nil {
			return err
		}
		notifications, err := api.svc.Notifications(ctx.Request().Context(), recipientID, unreadOnly)
		if err != nil {
			return errors.Wrap(err, "querying notifications")
		}
		return ctx.JSON(http.StatusOK, notifications)
	}
}

// getNotification fetches the :id notification, hiding it from anyone but staff and its recipient.
func (api *notificationApi) getNotification(ctx echo.Context) (notification.Notification, error) {
	n, err := api.svc.GetNotification(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return n, err
	}
	if err = canAccessStudent(ctx, n.RecipientID); err != nil {
		return notification.Notification{}, errHttpNotFound
	}
	return n, nil
}

func (api *notificationApi) retrieveNotification(ctx echo.Context) error {
	n, err := api.getNotification(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, n)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	n, err := api.getNotification(ctx)
	if err != nil {
		return err
	}
	if n, err = api.svc.MarkNotificationRead(ctx.Request().Context(), n.ID); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, n)
}
