package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core/explanation"
	"github.com/abmarghoub/EduPathInsight/core/report"
)

type explainabilityApi struct {
	explanations *explanation.Service
	reports      *report.Service
	validate     *validator.Validate
}

func registerExplainabilityAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	explanations *explanation.Service,
	reports *report.Service,
	validate *validator.Validate,
) {
	api := explainabilityApi{explanations: explanations, reports: reports, validate: validate}
	own := studentParamMiddleware()

	eg := g.Group("/explainability", jwt)
	eg.GET("/explain/:student_id/:module_id", api.explain, own)
	eg.GET("/explanations/student/:student_id", api.explanationsByStudent, own)
	eg.GET("/features/:student_id/:module_id", api.features, own)
	eg.GET("/report/:student_id/:module_id", api.report, own)
	eg.GET("/reports/student/:student_id", api.reportsByStudent, own)
	eg.POST("/reports/generate", api.generate)
}

func (api *explainabilityApi) explain(ctx echo.Context) error {
	moduleID, err := pathInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	e, err := api.explanations.Explain(ctx.Request().Context(), ctx.Param("student_id"), moduleID)
	if err != nil {
		return errors.Wrap(err, "explaining prediction")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *explainabilityApi) explanationsByStudent(ctx echo.Context) error {
	explanations, err := api.explanations.ByStudent(ctx.Request().Context(), ctx.Param("student_id"))
	if err != nil {
		return errors.Wrap(err, "querying explanations")
	}
	return ctx.JSON(http.StatusOK, explanations)
}

// features returns every stored importance, or the `top` most influential ones.
func (api *explainabilityApi) features(ctx echo.Context) error {
	moduleID, err := pathInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	c := ctx.Request().Context()
	studentID := ctx.Param("student_id")

	if raw := ctx.QueryParam("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fieldError("top", "must be a positive integer")
		}
		factors, err := api.explanations.TopFactors(c, studentID, moduleID, n)
		if err != nil {
			return errors.Wrap(err, "querying top factors")
		}
		return ctx.JSON(http.StatusOK, factors)
	}

	factors, err := api.explanations.FeatureImportance(c, studentID, moduleID)
	if err != nil {
		return errors.Wrap(err, "querying feature importance")
	}
	return ctx.JSON(http.StatusOK, factors)
}

func (api *explainabilityApi) report(ctx echo.Context) error {
	moduleID, err := pathInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	r, err := api.reports.Generate(ctx.Request().Context(), ctx.Param("student_id"), moduleID, ctx.QueryParam("type"))
	if err != nil {
		return errors.Wrap(err, "generating report")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *explainabilityApi) reportsByStudent(ctx echo.Context) error {
	reports, err := api.reports.ByStudent(ctx.Request().Context(), ctx.Param("student_id"), ctx.QueryParam("type"))
	if err != nil {
		return errors.Wrap(err, "querying reports")
	}
	return ctx.JSON(http.StatusOK, reports)
}

func (api *explainabilityApi) generate(ctx echo.Context) error {
	var data report.GenerateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GenerateRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	if err := canAccessStudent(ctx, data.StudentID); err != nil {
		return err
	}
	r, err := api.reports.Generate(ctx.Request().Context(), data.StudentID, data.ModuleID, data.ReportType)
	if err != nil {
		return errors.Wrap(err, "generating report")
	}
	return ctx.JSON(http.StatusCreated, r)
}
