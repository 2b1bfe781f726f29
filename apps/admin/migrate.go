package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/abmarghoub/EduPathInsight/storage/database"
)

var gooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate SERVICE COMMAND [ARGS...]",
		Short: "Run a goose command against the database of a service",
		Long: `Run a goose command against the database of a service.

Commands: up, up-by-one, up-to VERSION, down, down-to VERSION, redo, reset, status, version, fix.`,
		Example: "  admin migrate activities up\n  admin migrate prediction down-to 1",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.migrate(cmd.Context(), args[0], args[1], args[2:]...)
		},
	}
}

func (cli *commandLine) migrate(ctx context.Context, service, command string, args ...string) error {
	if err := validService(service); err != nil {
		return err
	}
	conf := cli.config(service)

	if err := database.CreateIfNotExist(conf); err != nil {
		return errors.Wrap(err, "creating database")
	}
	db, err := database.Open(conf)
	if err != nil {
		return err
	}
	defer db.Close()

	return gooseRunFunc(ctx, db.DB, conf.Database.Engine, service, command, args...)
}
