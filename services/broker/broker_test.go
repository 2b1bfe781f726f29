package broker

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/tests"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"activity.#", "activity.routing.key", true},
		{"activity.#", "activity", true},
		{"activity.#", "prediction.routing.key", false},
		{"prediction.*.key", "prediction.routing.key", true},
		{"prediction.*", "prediction.routing.key", false},
		{"#", "anything.at.all", true},
		{"#.key", "prediction.routing.key", true},
		{"exact.key", "exact.key", true},
		{"exact.key", "exact.other", false},
	}
	for _, tc := range tests {
		t.Run(tc.pattern+" "+tc.key, func(t *testing.T) {
			assert.Equal(t, tc.want, TopicMatch(tc.pattern, tc.key))
		})
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory("activity.#")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan core.Event, 2)
	done := make(chan struct{})
	go func() {
		_ = m.Consume(ctx, func(_ context.Context, evt core.Event) error {
			got <- evt
			return nil
		})
		close(done)
	}()

	presence, err := core.NewEvent(core.EventPresenceRecorded, core.PresenceRecorded{PresenceID: "p1"})
	require.NoError(t, err)
	risk, err := core.NewEvent(core.EventHighRiskStudent, core.HighRiskStudent{StudentID: "s1"})
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "prediction.routing.key", risk))
	require.NoError(t, m.Publish(ctx, "activity.routing.key", presence))

	select {
	case evt := <-got:
		assert.Equal(t, core.EventPresenceRecorded, evt.Type)
		var data core.PresenceRecorded
		require.NoError(t, evt.Decode(&data))
		assert.Equal(t, "p1", data.PresenceID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	assert.Equal(t, []string{core.EventHighRiskStudent, core.EventPresenceRecorded}, m.Events())
	assert.Len(t, got, 0, "unbound routing key must not be delivered")

	cancel()
	<-done
}

func Test_decode(t *testing.T) {
	evt, err := decode([]byte(`{"type":"RISK_MODULE","timestamp":"2024-03-01T10:00:00Z","data":{"module_id":3}}`))
	require.NoError(t, err)
	assert.Equal(t, core.EventRiskModule, evt.Type)
	var data core.RiskModule
	require.NoError(t, evt.Decode(&data))
	assert.Equal(t, int64(3), data.ModuleID)

	_, err = decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = decode([]byte(`{"data":{}}`))
	assert.EqualError(t, err, "event has no type")
}

func TestMemory_Consume_logsHandlerErrors(t *testing.T) {
	logger := &testutil.Logger{}
	m := NewMemory()
	m.Logger = logger
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = m.Consume(ctx, func(context.Context, core.Event) error {
			defer close(handled)
			return errors.New("unknown student")
		})
		close(done)
	}()

	evt, err := core.NewEvent(core.EventPresenceRecorded, core.PresenceRecorded{PresenceID: "p1"})
	require.NoError(t, err)
	require.NoError(t, m.Publish(ctx, "activity.routing.key", evt))

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	cancel()
	<-done

	entries := logger.Entries("error")
	require.Len(t, entries, 1)
	assert.Equal(t, `handling message "activity.routing.key"`, entries[0].Msg)
}

func TestDiscard(t *testing.T) {
	logger := &testutil.Logger{}
	d := NewDiscard(logger)

	evt, err := core.NewEvent(core.EventRiskModule, core.RiskModule{ModuleID: 3})
	require.NoError(t, err)
	require.NoError(t, d.Publish(context.Background(), "prediction.routing.key", evt))

	entries := logger.Entries("debug")
	require.Len(t, entries, 1)
	assert.Equal(t, "broker disabled, discarding RISK_MODULE on prediction.routing.key", entries[0].Msg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, d.Consume(ctx, nil))
}
