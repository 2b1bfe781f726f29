package clients_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/services/clients"
	testutil "github.com/abmarghoub/EduPathInsight/tests"
)

type route struct {
	status int
	body   string
}

// newServer answers the registered routes and counts the calls per path.
func newServer(t *testing.T, routes map[string]route) (*httptest.Server, map[string]*int32, func() []string) {
	t.Helper()
	calls := make(map[string]*int32, len(routes))
	for path := range routes {
		calls[path] = new(int32)
	}
	var (
		mu   sync.Mutex
		auth []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		rt, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(calls[r.URL.Path], 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rt.status)
		_, _ = w.Write([]byte(rt.body))
	}))
	t.Cleanup(srv.Close)
	return srv, calls, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), auth...)
	}
}

func options(url string, retries uint64) clients.Options {
	return clients.Options{
		BaseURL:    url + "/",
		Timeout:    time.Second,
		MaxRetries: retries,
		Token:      func() (string, error) { return "service-token", nil },
	}
}

func TestModuleClient(t *testing.T) {
	ctx := context.Background()
	srv, calls, auth := newServer(t, map[string]route{
		"/api/modules/admin/modules/20": {http.StatusOK, `{"id":20,"code":"ALG","name":"Algorithms","credits":6}`},
		"/api/modules/admin/modules/20/enrollments": {http.StatusOK, `[
			{"studentId":"s1","studentUsername":"s.one","studentEmail":"s.one@edupath.test","status":"APPROVED"},
			{"studentId":"s2","studentUsername":"s.two","status":"PENDING"}
		]`},
		"/api/modules/admin/modules/30": {http.StatusServiceUnavailable, `down`},
		"/api/modules/admin/modules/40": {http.StatusForbidden, `{"error":"forbidden"}`},
	})
	c := clients.NewModuleClient(options(srv.URL, 2), &testutil.Logger{})

	mod, err := c.GetModule(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, core.ModuleInfo{ID: 20, Code: "ALG", Name: "Algorithms"}, mod)
	assert.Equal(t, "Bearer service-token", auth()[0])

	enrollments, err := c.Enrollments(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, []core.Enrollment{
		{StudentID: "s1", StudentUsername: "s.one", StudentEmail: "s.one@edupath.test", Status: core.EnrollmentApproved},
		{StudentID: "s2", StudentUsername: "s.two", Status: "PENDING"},
	}, enrollments)

	t.Run("not found", func(t *testing.T) {
		_, err := c.GetModule(ctx, 99)
		assert.True(t, core.IsNotFound(err))
		assert.False(t, clients.IsUpstream(err))
	})

	t.Run("server errors are retried", func(t *testing.T) {
		_, err := c.GetModule(ctx, 30)
		require.Error(t, err)
		assert.True(t, clients.IsUpstream(err))
		var uErr *clients.UpstreamError
		require.True(t, errors.As(err, &uErr))
		assert.Equal(t, clients.ServiceModule, uErr.Service)
		assert.Equal(t, http.StatusServiceUnavailable, uErr.Status)
		assert.Equal(t, "down", uErr.Body)
		assert.EqualValues(t, 3, atomic.LoadInt32(calls["/api/modules/admin/modules/30"]))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		_, err := c.GetModule(ctx, 40)
		assert.True(t, clients.IsUpstream(err))
		assert.EqualValues(t, 1, atomic.LoadInt32(calls["/api/modules/admin/modules/40"]))
	})
}

func TestModuleClient_unreachable(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	url := srv.URL
	srv.Close()

	c := clients.NewModuleClient(options(url, 0), nil)
	_, err := c.GetModule(context.Background(), 1)
	var uErr *clients.UpstreamError
	require.True(t, errors.As(err, &uErr))
	assert.Equal(t, 0, uErr.Status)
	assert.Contains(t, uErr.Error(), "module service unreachable")
}

func TestActivitiesClient(t *testing.T) {
	srv, _, _ := newServer(t, map[string]route{
		"/api/activities/admin/statistics/student/s1/module/7": {http.StatusOK, `{
			"student_id": "s1",
			"module_id": 7,
			"presence_statistics": {"total_sessions": 10, "present": 8, "absent": 1, "late": 1, "excused": 0, "presence_rate": 80},
			"activity_statistics": {"total_activities": 4, "completed": 3, "not_completed": 1, "completion_rate": 75, "average_participation_score": 62.5}
		}`},
	})
	c := clients.NewActivitiesClient(options(srv.URL, 0), nil)

	stats, err := c.Statistics(context.Background(), "s1", 7)
	require.NoError(t, err)
	assert.Equal(t, "s1", stats.StudentID)
	assert.Equal(t, int64(7), stats.ModuleID)
	assert.Equal(t, 8, stats.PresenceStatistics.Present)
	assert.Equal(t, 75.0, stats.ActivityStatistics.CompletionRate)
	require.NotNil(t, stats.ActivityStatistics.AverageParticipationScore)
	assert.Equal(t, 62.5, *stats.ActivityStatistics.AverageParticipationScore)
}

func TestPredictionClient(t *testing.T) {
	srv, _, _ := newServer(t, map[string]route{
		"/api/predictions/student/s1/module/3": {http.StatusOK, `{
			"id": "p1", "student_id": "s1", "module_id": 3,
			"success_probability": 0.42, "dropout_probability": 0.45,
			"risk_level": "HIGH", "predicted_grade": 9.5, "confidence_score": 0.6,
			"features": {"presence_rate": 0.5}, "model_version": "1.0.0"
		}`},
		"/api/predictions/student/s2/module/3": {http.StatusOK, `not json`},
	})
	c := clients.NewPredictionClient(options(srv.URL, 0), nil)

	p, err := c.Latest(context.Background(), "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, 0.42, p.SuccessProbability)
	assert.Equal(t, "HIGH", p.RiskLevel)
	require.NotNil(t, p.PredictedGrade)
	assert.Equal(t, 9.5, *p.PredictedGrade)

	_, err = c.Latest(context.Background(), "s2", 3)
	assert.True(t, clients.IsUpstream(err))
}

func TestClient_tokenError(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	opts := options(srv.URL, 3)
	opts.Token = func() (string, error) { return "", errors.New("no secret") }

	_, err := clients.NewPredictionClient(opts, nil).Latest(context.Background(), "s1", 1)
	assert.EqualError(t, err, "fetching prediction: generating service token: no secret")
}

func TestOptionsFromConfig(t *testing.T) {
	conf := core.ServicesConfig{
		ModuleURL:     "http://module",
		ActivitiesURL: "http://activities",
		PredictionURL: "http://prediction",
		Timeout:       time.Second,
		MaxRetries:    2,
	}
	assert.Equal(t, "http://module", clients.OptionsFromConfig(conf, clients.ServiceModule, nil).BaseURL)
	assert.Equal(t, "http://activities", clients.OptionsFromConfig(conf, clients.ServiceActivities, nil).BaseURL)
	opts := clients.OptionsFromConfig(conf, clients.ServicePrediction, nil)
	assert.Equal(t, "http://prediction", opts.BaseURL)
	assert.Equal(t, uint64(2), opts.MaxRetries)
}
