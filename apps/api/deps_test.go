package api

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/services/broker"
	"github.com/abmarghoub/EduPathInsight/services/cache"
	"github.com/abmarghoub/EduPathInsight/services/clients"
	"github.com/abmarghoub/EduPathInsight/tests"
)

func newTestDeps(t *testing.T, service string) (*Deps, *testutil.Logger) {
	t.Helper()
	logger := &testutil.Logger{}
	deps, err := NewDeps(context.Background(), testutil.NewConfig(service), logger)
	require.NoError(t, err)
	t.Cleanup(deps.Close)
	return deps, logger
}

func TestNewDeps(t *testing.T) {
	deps, _ := newTestDeps(t, core.ServiceNotification)

	// the notification schema is migrated
	var n int
	require.NoError(t, deps.DB.Get(&n, "SELECT COUNT(*) FROM alerts"))
	assert.Zero(t, n)

	assert.NotNil(t, deps.Metrics)
	assert.NotNil(t, deps.Validate)
	assert.NotNil(t, deps.Translator)
}

func TestDeps_Close(t *testing.T) {
	logger := &testutil.Logger{}
	deps := &Deps{Logger: logger}

	var order []string
	deps.onClose("first", func() error {
		order = append(order, "first")
		return nil
	})
	deps.onClose("second", func() error {
		order = append(order, "second")
		return errors.New("already closed")
	})

	deps.Close()
	assert.Equal(t, []string{"second", "first"}, order)

	entries := logger.Entries("error")
	require.Len(t, entries, 1)
	assert.Equal(t, "closing second: already closed", entries[0].Msg)

	deps.Close() // no-op once closed
	assert.Len(t, order, 2)
}

func TestDeps_fallbacks(t *testing.T) {
	logger := &testutil.Logger{}
	conf := testutil.NewConfig(core.ServicePrediction)
	deps := &Deps{Conf: conf, Logger: logger}

	t.Run("broker disabled", func(t *testing.T) {
		assert.IsType(t, &broker.Discard{}, deps.Publisher())
		assert.IsType(t, &broker.Discard{}, deps.Consumer())
		assert.Len(t, logger.Entries("warn"), 2)
		assert.Empty(t, deps.Workers())
	})

	t.Run("broker enabled", func(t *testing.T) {
		conf.Broker.Enabled = true
		defer func() { conf.Broker.Enabled = false }()

		assert.IsType(t, &broker.Outbox{}, deps.Publisher())
		assert.Len(t, deps.closers, 2)
		assert.Len(t, deps.Workers(), 1)

		assert.IsType(t, &broker.RabbitMQ{}, deps.Consumer())
		assert.Len(t, deps.closers, 3)
		deps.closers, deps.workers = nil, nil
	})

	t.Run("cache disabled", func(t *testing.T) {
		assert.IsType(t, &cache.Memory{}, deps.Cache(context.Background()))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		conf.Cache.Enabled = true
		conf.Cache.Address = "127.0.0.1:1"
		defer func() { conf.Cache.Enabled = false }()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.IsType(t, &cache.Memory{}, deps.Cache(ctx))
		assert.Empty(t, deps.closers)
	})

	t.Run("client options", func(t *testing.T) {
		conf.Services.ActivitiesURL = "http://activities:8086"
		opts := deps.ClientOptions(clients.ServiceActivities)
		assert.Equal(t, "http://activities:8086", opts.BaseURL)
		require.NotNil(t, opts.Token)

		token, err := opts.Token()
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})
}

func TestNewValidator(t *testing.T) {
	validate, translator := NewValidator()
	require.NotNil(t, translator)

	type payload struct {
		Severity string `json:"severity" validate:"severity"`
	}
	assert.NoError(t, validate.Struct(payload{Severity: core.SeverityHigh}))
	assert.Error(t, validate.Struct(payload{Severity: "urgent"}))
}
