package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/abmarghoub/EduPathInsight/apps/api"
	"github.com/abmarghoub/EduPathInsight/core"
	logsvc "github.com/abmarghoub/EduPathInsight/services/logger"
)

func main() {
	cli := commandLine{
		out:    os.Stdout,
		tty:    term.IsTerminal(int(os.Stdout.Fd())),
		config: core.NewConfig,
		newDeps: func(ctx context.Context, conf *core.Config) (*api.Deps, error) {
			logger := logsvc.NewRollbarLogger(os.Stderr, conf)
			logger.Enable(!conf.Debug)
			return api.NewDeps(ctx, conf, logger)
		},
	}
	if err := cli.run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		os.Exit(1)
	}
}
