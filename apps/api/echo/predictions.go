package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core/prediction"
)

type predictionApi struct {
	svc      *prediction.Service
	validate *validator.Validate
}

func registerPredictionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *prediction.Service, validate *validator.Validate) {
	api := predictionApi{svc: svc, validate: validate}
	own := studentParamMiddleware()
	staff := staffMiddleware()

	pg := g.Group("/predictions", jwt)
	pg.POST("/student-module", api.predict)
	pg.GET("/student/:student_id", api.byStudent, own)
	pg.GET("/student/:student_id/module/:module_id", api.latest, own)

	tg := g.Group("/trajectories", jwt)
	tg.POST("/student-module", api.createTrajectory)
	tg.GET("/student/:student_id/module/:module_id", api.trajectory, own)
	tg.GET("/risk-modules", api.riskModules, staff)

	g.GET("/training/status", api.modelStatus, jwt, staff)
}

func (api *predictionApi) bindRequest(ctx echo.Context) (prediction.PredictRequest, error) {
	var data prediction.PredictRequest
	if err := ctx.Bind(&data); err != nil {
		return data, errors.Wrap(err, "binding to PredictRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return data, err
	}
	return data, canAccessStudent(ctx, data.StudentID)
}

func (api *predictionApi) predict(ctx echo.Context) error {
	data, err := api.bindRequest(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.Predict(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "predicting")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *predictionApi) byStudent(ctx echo.Context) error {
	preds, err := api.svc.ByStudent(ctx.Request().Context(), ctx.Param("student_id"))
	if err != nil {
		return errors.Wrap(err, "querying predictions")
	}
	return ctx.JSON(http.StatusOK, preds)
}

func (api *predictionApi) latest(ctx echo.Context) error {
	moduleID, err := pathInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	p, err := api.svc.Latest(ctx.Request().Context(), ctx.Param("student_id"), moduleID)
	if err != nil {
		return errors.Wrap(err, "fetching latest prediction")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *predictionApi) createTrajectory(ctx echo.Context) error {
	data, err := api.bindRequest(ctx)
	if err != nil {
		return err
	}
	t, err := api.svc.Trajectory(ctx.Request().Context(), data.StudentID, data.ModuleID)
	if err != nil {
		return errors.Wrap(err, "building trajectory")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *predictionApi) trajectory(ctx echo.Context) error {
	moduleID, err := pathInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	t, err := api.svc.Trajectory(ctx.Request().Context(), ctx.Param("student_id"), moduleID)
	if err != nil {
		return errors.Wrap(err, "building trajectory")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *predictionApi) riskModules(ctx echo.Context) error {
	modules, err := api.svc.RiskModules(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing risk modules")
	}
	return ctx.JSON(http.StatusOK, modules)
}

func (api *predictionApi) modelStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.ModelStatus())
}
