package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/abmarghoub/EduPathInsight/apps/api"
	"github.com/abmarghoub/EduPathInsight/core"
)

var services = []string{
	core.ServiceActivities,
	core.ServicePrediction,
	core.ServiceExplainability,
	core.ServiceNotification,
}

type commandLine struct {
	out     io.Writer
	tty     bool // tables on a terminal, JSON otherwise
	jsonOut bool
	config  func(service string) *core.Config
	newDeps func(ctx context.Context, conf *core.Config) (*api.Deps, error)
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "EduPath Insight operator commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.PersistentFlags().BoolVar(&cli.jsonOut, "json", false, "print JSON even on a terminal")
	root.AddCommand(cli.migrateCmd(), cli.anomaliesCmd(), cli.modelCmd())
	return root
}

func (cli *commandLine) run(args []string) error {
	if args == nil {
		args = []string{} // cobra falls back to os.Args on nil
	}
	root := cli.rootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func validService(service string) error {
	for _, s := range services {
		if s == service {
			return nil
		}
	}
	return fmt.Errorf("unknown service %q (one of: %s)", service, strings.Join(services, ", "))
}

// print writes v as indented JSON, or as a table of rows when attached to a terminal.
func (cli *commandLine) print(v interface{}, header []string, rows [][]string) error {
	if cli.jsonOut || !cli.tty {
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
