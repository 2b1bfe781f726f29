package api

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/abmarghoub/EduPathInsight/core"
)

// CronWorker runs job on a cron schedule until ctx is done.
// A run still in progress when the next one is due makes the latter skip.
func CronWorker(schedule, name string, logger core.Logger, job func(ctx context.Context) error) Worker {
	return func(ctx context.Context) error {
		cl := cronLogger{name: name, logger: logger}
		c := cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		)
		_, err := c.AddFunc(schedule, func() {
			if err := job(ctx); err != nil && ctx.Err() == nil {
				logger.Error(fmt.Sprintf("%s failed: %v", name, err), err)
			}
		})
		if err != nil {
			return errors.Wrapf(err, "scheduling %s on %q", name, schedule)
		}

		logger.Info(fmt.Sprintf("%s scheduled on %q", name, schedule))
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	}
}

// cronLogger sends the cron logs to a core.Logger.
type cronLogger struct {
	name   string
	logger core.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(fmt.Sprintf("cron %s: %s", l.name, msg), fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(fmt.Sprintf("cron %s: %s", l.name, msg), err, fields(keysAndValues))
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	f := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
