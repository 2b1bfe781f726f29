package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
)

func TestMigrate(t *testing.T) {
	tests := []struct {
		service string
		tables  []string
	}{
		{service: core.ServiceActivities, tables: []string{"presences", "activities", "anomalies"}},
		{service: core.ServicePrediction, tables: []string{"predictions", "trajectories", "risk_modules"}},
		{service: core.ServiceExplainability, tables: []string{"explanations", "feature_importances", "reports"}},
		{service: core.ServiceNotification, tables: []string{"alerts", "notifications"}},
	}
	for _, tc := range tests {
		t.Run(tc.service, func(t *testing.T) {
			db, err := OpenMemory()
			require.NoError(t, err)
			defer db.Close()

			require.NoError(t, Migrate(context.Background(), db, EngineSQLite, tc.service))

			for _, table := range tc.tables {
				var name string
				err = db.Get(&name, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
				assert.NoError(t, err, table)
				assert.Equal(t, table, name)
			}

			// down then up again
			require.NoError(t, RunMigrations(context.Background(), db.DB, EngineSQLite, tc.service, "reset"))
			require.NoError(t, Migrate(context.Background(), db, EngineSQLite, tc.service))
		})
	}
}

func TestRunMigrations_unknownCommand(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	err = RunMigrations(context.Background(), db.DB, EngineSQLite, core.ServiceNotification, "sideways")
	assert.Error(t, err)
}

func TestCreateIfNotExist_sqlite(t *testing.T) {
	conf := &core.Config{Database: core.DatabaseConfig{Engine: EngineSQLite}}
	assert.NoError(t, CreateIfNotExist(conf))
}

func Test_quoting(t *testing.T) {
	assert.Equal(t, `"edupath"`, quoteIdent("edupath"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
	assert.Equal(t, `'it''s'`, quoteLiteral("it's"))
}

func Test_gooseDialect(t *testing.T) {
	assert.Equal(t, "sqlite3", gooseDialect(EngineSQLite))
	assert.Equal(t, "postgres", gooseDialect(EnginePostgres))
}
