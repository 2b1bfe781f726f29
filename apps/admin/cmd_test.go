package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/apps/api"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/ml/features"
	"github.com/abmarghoub/EduPathInsight/ml/gnn"
	"github.com/abmarghoub/EduPathInsight/storage/database"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
	"github.com/abmarghoub/EduPathInsight/tests"
)

// setup returns a CLI whose services use sqlite files living as long as the test.
func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	dir := t.TempDir()
	out := new(bytes.Buffer)
	cli := &commandLine{
		out: out,
		config: func(service string) *core.Config {
			conf := testutil.NewConfig(service)
			conf.Database.Path = filepath.Join(dir, service+".db")
			return conf
		},
		newDeps: func(ctx context.Context, conf *core.Config) (*api.Deps, error) {
			return api.NewDeps(ctx, conf, &testutil.Logger{})
		},
	}
	return cli, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErrStr string
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(tt.args)
			if tt.wantErrStr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, []cliTest{
		{name: "no command"},
		{name: "unknown command", args: []string{"lol"}, wantErrStr: `unknown command "lol" for "admin"`},
	})
	assert.Contains(t, out.String(), "migrate")
	assert.Contains(t, out.String(), "anomalies")
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	realGooseRun := gooseRunFunc
	defer func() { gooseRunFunc = realGooseRun }()

	var gotService string
	gooseRunFunc = func(_ context.Context, db *sql.DB, engine, service, command string, args ...string) error {
		if db == nil || engine != database.EngineSQLite {
			return fmt.Errorf("unexpected database %v (%s)", db, engine)
		}
		gotService = service
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"migrate"}, wantErrStr: "requires at least 2 arg(s), only received 0"},
		{name: "no command", args: []string{"migrate", "activities"}, wantErrStr: "requires at least 2 arg(s), only received 1"},
		{
			name:       "unknown service",
			args:       []string{"migrate", "grades", "up"},
			wantErrStr: `unknown service "grades" (one of: activities, prediction, explainability, notification)`,
		},
		{name: "unknown command", args: []string{"migrate", "activities", "lol"}, wantErrStr: `"lol": no such command`},
		{name: "up-to: no args", args: []string{"migrate", "activities", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "activities", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "activities", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "activities", "up"}},
		{name: "up-by-one", args: []string{"migrate", "prediction", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "explainability", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "notification", "down"}},
		{name: "down-to", args: []string{"migrate", "activities", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "activities", "redo"}},
		{name: "reset", args: []string{"migrate", "activities", "reset"}},
		{name: "status", args: []string{"migrate", "activities", "status"}},
		{name: "version", args: []string{"migrate", "activities", "version"}},
		{name: "fix", args: []string{"migrate", "activities", "fix"}},
	})
	assert.Equal(t, core.ServiceActivities, gotService)

	t.Run("goose", func(t *testing.T) {
		gooseRunFunc = realGooseRun
		require.NoError(t, cli.run([]string{"migrate", core.ServiceNotification, "up"}))

		db, err := database.Open(cli.config(core.ServiceNotification))
		require.NoError(t, err)
		defer db.Close()

		var n int
		require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM alerts"))
		assert.Zero(t, n)
	})
}

func Test_commandLine_anomalies(t *testing.T) {
	cli, out := setup(t)

	// seed the activities database
	conf := cli.config(core.ServiceActivities)
	db, err := database.Open(conf)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, conf.Database.Engine, core.ServiceActivities))
	day := core.NewDate(2024, 4, 1)
	testutil.CreatePresences(t, sqlxrepos.NewPresenceRepository(db), "s1", 20, day,
		presence.StatusAbsent, presence.StatusAbsent, presence.StatusAbsent, presence.StatusPresent)
	require.NoError(t, db.Close())

	runCLITests(t, cli, []cliTest{
		{name: "check: no flags", args: []string{"anomalies", "check"}, wantErrStr: `required flag(s) "module", "student" not set`},
		{
			name:       "check: invalid flags",
			args:       []string{"anomalies", "check", "--student", " ", "--module", "0"},
			wantErrStr: "module_id: this field is required; student_id: this field is required",
		},
	})

	t.Run("check: bad module", func(t *testing.T) {
		err := cli.run([]string{"anomalies", "check", "--student", "s1", "--module", "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid argument "x"`)
	})

	t.Run("check", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"anomalies", "check", "--student", "s1", "--module", "20"}))

		var got []anomaly.Anomaly
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		var found bool
		for _, a := range got {
			if a.Type == anomaly.TypeHighAbsenteeism {
				found = true
				assert.Equal(t, core.SeverityHigh, a.Severity)
				assert.Equal(t, anomaly.StatusActive, a.Status)
			}
		}
		assert.True(t, found, "no %s anomaly in %s", anomaly.TypeHighAbsenteeism, out.String())
	})

	t.Run("sweep", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"anomalies", "sweep"}))

		var got anomaly.SweepResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		assert.Equal(t, 1, got.Checked)
		assert.Zero(t, got.Created) // detected by the previous check already
		assert.Zero(t, got.Failed)
	})

	t.Run("sweep (table)", func(t *testing.T) {
		out.Reset()
		cli.tty = true
		defer func() { cli.tty = false }()

		require.NoError(t, cli.run([]string{"anomalies", "sweep"}))
		assert.Contains(t, out.String(), "CHECKED")
		assert.NotContains(t, out.String(), "{")
	})
}

func Test_commandLine_model(t *testing.T) {
	cli, out := setup(t)

	t.Run("inspect (seeded)", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"model", "inspect"}))

		var info gnn.Info
		require.NoError(t, json.Unmarshal(out.Bytes(), &info))
		assert.Equal(t, gnn.SourceSeeded, info.Source)
		assert.Equal(t, "test", info.Version)
		assert.Equal(t, features.Names, info.Features)
	})

	t.Run("inspect (table)", func(t *testing.T) {
		out.Reset()
		cli.tty = true
		defer func() { cli.tty = false }()

		require.NoError(t, cli.run([]string{"model", "inspect"}))
		assert.Contains(t, out.String(), "FIELD")
		assert.Regexp(t, `source\s+seeded`, out.String())
	})

	t.Run("inspect (--json on a terminal)", func(t *testing.T) {
		out.Reset()
		cli.tty = true
		defer func() { cli.tty = false }()

		require.NoError(t, cli.run([]string{"--json", "model", "inspect"}))
		assert.True(t, json.Valid(out.Bytes()))
	})

	t.Run("inspect (corrupt weights)", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "weights.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

		err := cli.run([]string{"model", "inspect", "--path", path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding model weights")
	})
}
