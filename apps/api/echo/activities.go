package echoapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/ml/features"
)

type (
	activitiesApi struct {
		presences  *presence.Service
		activities *activity.Service
		anomalies  *anomaly.Service
		stats      *features.Collector
		validate   *validator.Validate
	}

	// StudentRecords is returned for a student when a module is given.
	StudentRecords struct {
		Records    interface{} `json:"records"`
		Statistics interface{} `json:"statistics"`
	}

	presenceTemplateRequest struct {
		ModuleID    int64      `json:"module_id" validate:"required,gt=0"`
		SessionDate *core.Date `json:"session_date"`
		SessionTime string     `json:"session_time" validate:"omitempty,timeofday"`
	}

	activityTemplateRequest struct {
		ModuleID     int64      `json:"module_id" validate:"required,gt=0"`
		ActivityDate *core.Date `json:"activity_date"`
		ActivityType string     `json:"activity_type" validate:"omitempty,activitytype"`
	}
)

func registerActivitiesAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	presences *presence.Service,
	activities *activity.Service,
	anomalies *anomaly.Service,
	validate *validator.Validate,
) {
	api := activitiesApi{
		presences:  presences,
		activities: activities,
		anomalies:  anomalies,
		stats:      features.NewCollector(presences, activities),
		validate:   validate,
	}

	ag := g.Group("/activities/admin", jwt, staffMiddleware())

	pg := ag.Group("/presences")
	pg.GET("", api.queryPresences)
	pg.POST("", api.createPresence)
	pg.POST("/import", api.importPresences)
	pg.GET("/export/csv", api.exportPresences(core.SheetCSV))
	pg.GET("/export/excel", api.exportPresences(core.SheetExcel))
	pg.POST("/export/template", api.presenceTemplate(core.SheetCSV))
	pg.POST("/export/template/excel", api.presenceTemplate(core.SheetExcel))
	pg.GET("/module/:module_id", api.presencesByModule)
	pg.GET("/student/:student_id", api.presencesByStudent)
	pg.GET("/:id", api.retrievePresence)
	pg.PUT("/:id", api.updatePresence)
	pg.DELETE("/:id", api.destroyPresence)

	acg := ag.Group("/activities")
	acg.GET("", api.queryActivities)
	acg.POST("", api.createActivity)
	acg.POST("/import", api.importActivities)
	acg.GET("/export/csv", api.exportActivities(core.SheetCSV))
	acg.GET("/export/excel", api.exportActivities(core.SheetExcel))
	acg.POST("/export/template", api.activityTemplate(core.SheetCSV))
	acg.POST("/export/template/excel", api.activityTemplate(core.SheetExcel))
	acg.GET("/module/:module_id", api.activitiesByModule)
	acg.GET("/student/:student_id", api.activitiesByStudent)
	acg.GET("/:id", api.retrieveActivity)
	acg.PUT("/:id", api.updateActivity)
	acg.DELETE("/:id", api.destroyActivity)

	ag.GET("/statistics/student/:student_id/module/:module_id", api.statistics)

	if anomalies != nil {
		ang := ag.Group("/anomalies")
		ang.GET("", api.queryAnomalies)
		ang.POST("/check", api.checkAnomalies)
		ang.GET("/student/:student_id", api.anomaliesByStudent)
		ang.GET("/:id", api.retrieveAnomaly)
		ang.PUT("/:id", api.applyAnomalyAction)
	}
}

// Presences

func (api *activitiesApi) presenceFilter(ctx echo.Context) (presence.QueryFilter, error) {
	filter := presence.QueryFilter{
		StudentID: ctx.QueryParam("student_id"),
		Status:    ctx.QueryParam("status"),
	}
	var err error
	if filter.ModuleID, err = queryInt64(ctx, "module_id"); err != nil {
		return filter, err
	}
	filter.From, filter.To, err = dateRange(ctx)
	return filter, err
}

func (api *activitiesApi) queryPresences(ctx echo.Context) error {
	filter, err := api.presenceFilter(ctx)
	if err != nil {
		return err
	}
	var ord Ordering
	ord.Bind(ctx)

	presences, err := api.presences.Query(ctx.Request().Context(), filter, ord.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying presences")
	}
	return ctx.JSON(http.StatusOK, presences)
}

func (api *activitiesApi) createPresence(ctx echo.Context) error {
	var data presence.NewPresence
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPresence")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	p, err := api.presences.Create(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "creating presence")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *activitiesApi) retrievePresence(ctx echo.Context) error {
	p, err := api.presences.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *activitiesApi) updatePresence(ctx echo.Context) error {
	var data presence.UpdatePresence
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePresence")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	p, err := api.presences.Update(ctx.Request().Context(), ctx.Param("id"), data, actor)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *activitiesApi) destroyPresence(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if err = api.presences.Delete(ctx.Request().Context(), ctx.Param("id"), actor); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *activitiesApi) presencesByModule(ctx echo.Context) error {
	moduleID, err := pathInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	presences, err := api.presences.ByModule(ctx.Request().Context(), moduleID)
	if err != nil {
		return errors.Wrap(err, "querying presences")
	}
	return ctx.JSON(http.StatusOK, presences)
}

func (api *activitiesApi) presencesByStudent(ctx echo.Context) error {
	moduleID, err := queryInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	c := ctx.Request().Context()
	studentID := ctx.Param("student_id")

	presences, err := api.presences.ByStudent(c, studentID, moduleID)
	if err != nil {
		return errors.Wrap(err, "querying presences")
	}
	if moduleID == nil {
		return ctx.JSON(http.StatusOK, presences)
	}
	return ctx.JSON(http.StatusOK, StudentRecords{Records: presences, Statistics: presence.ComputeStatistics(presences)})
}

func (api *activitiesApi) importPresences(ctx echo.Context) error {
	return importSheet(ctx, api.presences.Import)
}

func (api *activitiesApi) exportPresences(format core.SheetFormat) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		filter, err := api.presenceFilter(ctx)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err = api.presences.Export(ctx.Request().Context(), &buf, filter, format); err != nil {
			return errors.Wrap(err, "exporting presences")
		}
		return sendSheet(ctx, format, "presences_export", buf.Bytes())
	}
}

func (api *activitiesApi) presenceTemplate(format core.SheetFormat) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var data presenceTemplateRequest
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to presenceTemplateRequest")
		}
		data.SessionTime = core.NormalizeTimeOfDay(core.CleanString(data.SessionTime))
		if err := api.validate.Struct(data); err != nil {
			return err
		}
		date := core.DateOf(time.Now())
		if data.SessionDate != nil && !data.SessionDate.IsZero() {
			date = *data.SessionDate
		}

		var buf bytes.Buffer
		if err := api.presences.Template(ctx.Request().Context(), &buf, data.ModuleID, date, data.SessionTime, format); err != nil {
			return err
		}
		return sendSheet(ctx, format, fmt.Sprintf("presences_template_%d", data.ModuleID), buf.Bytes())
	}
}

// Activities

func (api *activitiesApi) activityFilter(ctx echo.Context) (activity.QueryFilter, error) {
	filter := activity.QueryFilter{
		StudentID:    ctx.QueryParam("student_id"),
		ActivityType: ctx.QueryParam("activity_type"),
	}
	var err error
	if filter.ModuleID, err = queryInt64(ctx, "module_id"); err != nil {
		return filter, err
	}
	if filter.Completed, err = queryBool(ctx, "completed"); err != nil {
		return filter, err
	}
	filter.From, filter.To, err = dateRange(ctx)
	return filter, err
}

func (api *activitiesApi) queryActivities(ctx echo.Context) error {
	filter, err := api.activityFilter(ctx)
	if err != nil {
		return err
	}
	var ord Ordering
	ord.Bind(ctx)

	activities, err := api.activities.Query(ctx.Request().Context(), filter, ord.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying activities")
	}
	return ctx.JSON(http.StatusOK, activities)
}

func (api *activitiesApi) createActivity(ctx echo.Context) error {
	var data activity.NewActivity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewActivity")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	a, err := api.activities.Create(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "creating activity")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *activitiesApi) retrieveActivity(ctx echo.Context) error {
	a, err := api.activities.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *activitiesApi) updateActivity(ctx echo.Context) error {
	var data activity.UpdateActivity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateActivity")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	a, err := api.activities.Update(ctx.Request().Context(), ctx.Param("id"), data, actor)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *activitiesApi) destroyActivity(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if err = api.activities.Delete(ctx.Request().Context(), ctx.Param("id"), actor); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *activitiesApi) activitiesByModule(ctx echo.Context) error {
	moduleID, err := pathInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	activities, err := api.activities.ByModule(ctx.Request().Context(), moduleID)
	if err != nil {
		return errors.Wrap(err, "querying activities")
	}
	return ctx.JSON(http.StatusOK, activities)
}

func (api *activitiesApi) activitiesByStudent(ctx echo.Context) error {
	moduleID, err := queryInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	activities, err := api.activities.ByStudent(ctx.Request().Context(), ctx.Param("student_id"), moduleID)
	if err != nil {
		return errors.Wrap(err, "querying activities")
	}
	if moduleID == nil {
		return ctx.JSON(http.StatusOK, activities)
	}
	return ctx.JSON(http.StatusOK, StudentRecords{Records: activities, Statistics: activity.ComputeStatistics(activities)})
}

func (api *activitiesApi) importActivities(ctx echo.Context) error {
	return importSheet(ctx, api.activities.Import)
}

func (api *activitiesApi) exportActivities(format core.SheetFormat) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		filter, err := api.activityFilter(ctx)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err = api.activities.Export(ctx.Request().Context(), &buf, filter, format); err != nil {
			return errors.Wrap(err, "exporting activities")
		}
		return sendSheet(ctx, format, "activities_export", buf.Bytes())
	}
}

func (api *activitiesApi) activityTemplate(format core.SheetFormat) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var data activityTemplateRequest
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to activityTemplateRequest")
		}
		data.ActivityType = strings.ToUpper(core.CleanString(data.ActivityType))
		if err := api.validate.Struct(data); err != nil {
			return err
		}
		date := core.DateOf(time.Now())
		if data.ActivityDate != nil && !data.ActivityDate.IsZero() {
			date = *data.ActivityDate
		}

		var buf bytes.Buffer
		if err := api.activities.Template(ctx.Request().Context(), &buf, data.ModuleID, date, data.ActivityType, format); err != nil {
			return err
		}
		return sendSheet(ctx, format, fmt.Sprintf("activities_template_%d", data.ModuleID), buf.Bytes())
	}
}

// Statistics

func (api *activitiesApi) statistics(ctx echo.Context) error {
	moduleID, err := pathInt64(ctx, "module_id")
	if err != nil {
		return err
	}
	stats, err := api.stats.Statistics(ctx.Request().Context(), ctx.Param("student_id"), moduleID)
	if err != nil {
		return errors.Wrap(err, "computing statistics")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// Anomalies

func (api *activitiesApi) queryAnomalies(ctx echo.Context) error {
	filter := anomaly.QueryFilter{
		StudentID: ctx.QueryParam("student_id"),
		Type:      ctx.QueryParam("type"),
		Status:    ctx.QueryParam("status"),
	}
	var err error
	if filter.ModuleID, err = queryInt64(ctx, "module_id"); err != nil {
		return err
	}
	anomalies, err := api.anomalies.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying anomalies")
	}
	return ctx.JSON(http.StatusOK, anomalies)
}

func (api *activitiesApi) retrieveAnomaly(ctx echo.Context) error {
	a, err := api.anomalies.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *activitiesApi) applyAnomalyAction(ctx echo.Context) error {
	var data anomaly.ActionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ActionRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.anomalies.Apply(ctx.Request().Context(), ctx.Param("id"), data.Action)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *activitiesApi) anomaliesByStudent(ctx echo.Context) error {
	activeOnly, err := queryBool(ctx, "active_only")
	if err != nil {
		return err
	}
	anomalies, err := api.anomalies.ByStudent(ctx.Request().Context(), ctx.Param("student_id"), activeOnly != nil && *activeOnly)
	if err != nil {
		return errors.Wrap(err, "querying anomalies")
	}
	return ctx.JSON(http.StatusOK, anomalies)
}

func (api *activitiesApi) checkAnomalies(ctx echo.Context) error {
	var data anomaly.CheckRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	anomalies, err := api.anomalies.Check(ctx.Request().Context(), data.StudentID, data.ModuleID)
	if err != nil {
		return errors.Wrap(err, "checking anomalies")
	}
	return ctx.JSON(http.StatusOK, anomalies)
}

// Sheet helpers

type importFunc func(ctx context.Context, r io.Reader, format core.SheetFormat, teacher core.Actor) (core.ImportResult, error)

// importSheet reads the uploaded file as CSV or Excel depending on its extension.
func importSheet(ctx echo.Context, run importFunc) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return fieldError("file", "this field is required")
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	res, err := run(ctx.Request().Context(), f, core.SheetFormatOf(fh.Filename), actor)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func sendSheet(ctx echo.Context, format core.SheetFormat, name string, data []byte) error {
	filename := fmt.Sprintf("%s_%s.%s", name, time.Now().UTC().Format("20060102_150405"), format)
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, format.ContentType(), data)
}
