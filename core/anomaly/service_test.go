package anomaly_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/services/broker"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
	testutil "github.com/abmarghoub/EduPathInsight/tests"
)

type fixture struct {
	svc        *anomaly.Service
	presences  presence.Repository
	activities activity.Repository
	broker     *broker.Memory
}

func newFixture(t *testing.T) fixture {
	conf := testutil.NewConfig(core.ServiceActivities)
	validate, translator := testutil.NewValidator()
	logger := &testutil.Logger{}
	db := testutil.PrepareDB(t, core.ServiceActivities)

	f := fixture{
		presences:  sqlxrepos.NewPresenceRepository(db),
		activities: sqlxrepos.NewActivityRepository(db),
		broker:     broker.NewMemory(),
	}
	presenceSvc := presence.NewService(f.presences, nil, nil, conf, logger, validate, translator)
	activitySvc := activity.NewService(f.activities, nil, nil, conf, logger, validate, translator)
	f.svc = anomaly.NewService(sqlxrepos.NewAnomalyRepository(db), presenceSvc, activitySvc, f.broker, conf, logger)
	return f
}

func TestService_Check(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreatePresences(t, f.presences, "s1", 7, start,
		presence.StatusAbsent, presence.StatusAbsent, presence.StatusPresent, presence.StatusAbsent)

	found, err := f.svc.Check(ctx, "s1", 7)
	require.NoError(t, err)
	require.Len(t, found, 1)
	first := found[0]
	assert.Equal(t, anomaly.TypeHighAbsenteeism, first.Type)
	assert.Equal(t, core.SeverityHigh, first.Severity)
	assert.Equal(t, anomaly.StatusActive, first.Status)
	assert.Equal(t, float64(4), first.Metadata["total_sessions"])

	require.Len(t, f.broker.Published, 1)
	var payload core.AnomalyDetected
	require.NoError(t, f.broker.Published[0].Event.Decode(&payload))
	assert.Equal(t, first.ID, payload.AnomalyID)
	assert.Equal(t, core.SeverityHigh, payload.Severity)

	// a second check refreshes the active anomaly
	testutil.CreatePresences(t, f.presences, "s1", 7, core.DateOf(start.AddDate(0, 0, 10)), presence.StatusAbsent)
	found, err = f.svc.Check(ctx, "s1", 7)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first.ID, found[0].ID)
	assert.Equal(t, "Absence rate of 80.00% (4 absences out of 5 sessions)", found[0].Description)
	assert.Len(t, f.broker.Published, 2, "explicit checks always publish")

	all, err := f.svc.ByStudent(ctx, "s1", false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// once resolved, a new anomaly is raised
	_, err = f.svc.Resolve(ctx, first.ID)
	require.NoError(t, err)
	found, err = f.svc.Check(ctx, "s1", 7)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.NotEqual(t, first.ID, found[0].ID)

	active, err := f.svc.ByStudent(ctx, "s1", true)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestService_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreatePresences(t, f.presences, "s1", 7, start, presence.StatusAbsent, presence.StatusPresent)
	testutil.CreatePresences(t, f.presences, "s2", 7, start, presence.StatusPresent, presence.StatusPresent)
	testutil.CreateActivities(t, f.activities, "s2", 7, start, false)
	testutil.CreateActivities(t, f.activities, "s3", 8, start, true)

	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, anomaly.SweepResult{Checked: 3, Detected: 2, Created: 2}, res)
	assert.Equal(t, []string{core.EventAnomalyDetected, core.EventAnomalyDetected}, f.broker.Events())

	res, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, anomaly.SweepResult{Checked: 3, Detected: 2}, res)
	assert.Len(t, f.broker.Published, 2, "refreshed anomalies are not published again")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.svc.Sweep(cancelled)
	assert.Error(t, err)
}

func TestService_Apply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreateActivities(t, f.activities, "s1", 7, start, false)
	found, err := f.svc.Check(ctx, "s1", 7)
	require.NoError(t, err)
	require.Len(t, found, 1)
	id := found[0].ID

	tests := []struct {
		action string
		want   string
		check  func(t *testing.T, a anomaly.Anomaly)
	}{
		{action: anomaly.ActionAcknowledge, want: anomaly.StatusAcknowledged, check: func(t *testing.T, a anomaly.Anomaly) {
			assert.NotNil(t, a.AcknowledgedAt)
			assert.Nil(t, a.ResolvedAt)
		}},
		{action: anomaly.ActionResolve, want: anomaly.StatusResolved, check: func(t *testing.T, a anomaly.Anomaly) {
			assert.NotNil(t, a.ResolvedAt)
		}},
		{action: anomaly.ActionDismiss, want: anomaly.StatusDismissed},
	}
	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			a, err := f.svc.Apply(ctx, id, tc.action)
			require.NoError(t, err)
			assert.Equal(t, tc.want, a.Status)
			if tc.check != nil {
				tc.check(t, a)
			}
		})
	}

	_, err = f.svc.Apply(ctx, id, "explode")
	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = f.svc.Apply(ctx, "4d3b4a8e-5a9e-4f76-9a4e-000000000000", anomaly.ActionResolve)
	assert.Equal(t, anomaly.ErrNotFound, err)
}

func TestActionRequest_Validate(t *testing.T) {
	validate, _ := testutil.NewValidator()

	ar := anomaly.ActionRequest{Action: " Resolve "}
	require.NoError(t, ar.Validate(validate))
	assert.Equal(t, anomaly.ActionResolve, ar.Action)

	ar = anomaly.ActionRequest{Action: "ignore"}
	assert.Error(t, ar.Validate(validate))
}

// staleRepository misses the active anomalies on its first lookup, as a check racing
// with another one would.
type staleRepository struct {
	anomaly.Repository
	once sync.Once
}

func (r *staleRepository) QueryAnomalies(ctx context.Context, filter anomaly.QueryFilter) ([]anomaly.Anomaly, error) {
	stale := false
	r.once.Do(func() { stale = true })
	if stale {
		return nil, nil
	}
	return r.Repository.QueryAnomalies(ctx, filter)
}

func TestService_Check_concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreatePresences(t, f.presences, "s1", 7, start,
		presence.StatusAbsent, presence.StatusAbsent, presence.StatusPresent, presence.StatusAbsent)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Check(ctx, "s1", 7)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	active, err := f.svc.ByStudent(ctx, "s1", true)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestService_Check_conflict(t *testing.T) {
	ctx := context.Background()
	conf := testutil.NewConfig(core.ServiceActivities)
	validate, translator := testutil.NewValidator()
	logger := &testutil.Logger{}
	db := testutil.PrepareDB(t, core.ServiceActivities)
	presences := sqlxrepos.NewPresenceRepository(db)
	presenceSvc := presence.NewService(presences, nil, nil, conf, logger, validate, translator)
	activitySvc := activity.NewService(sqlxrepos.NewActivityRepository(db), nil, nil, conf, logger, validate, translator)
	repo := sqlxrepos.NewAnomalyRepository(db)
	testutil.CreatePresences(t, presences, "s1", 7, start,
		presence.StatusAbsent, presence.StatusAbsent, presence.StatusPresent, presence.StatusAbsent)

	first, err := anomaly.NewService(repo, presenceSvc, activitySvc, nil, conf, logger).Check(ctx, "s1", 7)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// the insert hits the unique index and the existing anomaly is refreshed instead
	racing := anomaly.NewService(&staleRepository{Repository: repo}, presenceSvc, activitySvc, nil, conf, logger)
	found, err := racing.Check(ctx, "s1", 7)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first[0].ID, found[0].ID)

	active, err := repo.QueryAnomalies(ctx, anomaly.QueryFilter{StudentID: "s1", Status: anomaly.StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
