package main

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/abmarghoub/EduPathInsight/apps/api"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
)

func (cli *commandLine) anomaliesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Run anomaly detection outside of the scheduled sweep",
	}

	var studentID string
	var moduleID int64
	check := &cobra.Command{
		Use:   "check",
		Short: "Check one student in one module and print the active anomalies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := anomaly.CheckRequest{StudentID: studentID, ModuleID: moduleID}
			validate, translator := api.NewValidator()
			if err := req.Validate(validate); err != nil {
				return errors.New(core.ErrorText(err, translator))
			}
			return cli.checkAnomalies(cmd.Context(), req)
		},
	}
	check.Flags().StringVar(&studentID, "student", "", "student ID")
	check.Flags().Int64Var(&moduleID, "module", 0, "module ID")
	_ = check.MarkFlagRequired("student")
	_ = check.MarkFlagRequired("module")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Check every student and module having records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.sweepAnomalies(cmd.Context())
		},
	}

	cmd.AddCommand(check, sweep)
	return cmd
}

func (cli *commandLine) anomalyService(ctx context.Context) (*anomaly.Service, func(), error) {
	deps, err := cli.newDeps(ctx, cli.config(core.ServiceActivities))
	if err != nil {
		return nil, nil, err
	}
	conf, logger := deps.Conf, deps.Logger
	modules := deps.Modules()
	publisher := deps.Publisher()

	presenceSvc := presence.NewService(sqlxrepos.NewPresenceRepository(deps.DB), modules, publisher, conf, logger, deps.Validate, deps.Translator)
	activitySvc := activity.NewService(sqlxrepos.NewActivityRepository(deps.DB), modules, publisher, conf, logger, deps.Validate, deps.Translator)
	svc := anomaly.NewService(sqlxrepos.NewAnomalyRepository(deps.DB), presenceSvc, activitySvc, publisher, conf, logger)
	return svc, deps.Close, nil
}

func (cli *commandLine) checkAnomalies(ctx context.Context, req anomaly.CheckRequest) error {
	svc, closeDeps, err := cli.anomalyService(ctx)
	if err != nil {
		return err
	}
	defer closeDeps()

	anomalies, err := svc.Check(ctx, req.StudentID, req.ModuleID)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(anomalies))
	for _, a := range anomalies {
		rows = append(rows, []string{a.ID, a.Type, a.Severity, a.Status, a.Description})
	}
	return cli.print(anomalies, []string{"ID", "TYPE", "SEVERITY", "STATUS", "DESCRIPTION"}, rows)
}

func (cli *commandLine) sweepAnomalies(ctx context.Context) error {
	svc, closeDeps, err := cli.anomalyService(ctx)
	if err != nil {
		return err
	}
	defer closeDeps()

	res, err := svc.Sweep(ctx)
	if err != nil {
		return err
	}
	return cli.print(res, []string{"CHECKED", "DETECTED", "CREATED", "FAILED"}, [][]string{{
		strconv.Itoa(res.Checked),
		strconv.Itoa(res.Detected),
		strconv.Itoa(res.Created),
		strconv.Itoa(res.Failed),
	}})
}
