package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/abmarghoub/EduPathInsight/apps/api/echo"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/explanation"
	"github.com/abmarghoub/EduPathInsight/core/notification"
	"github.com/abmarghoub/EduPathInsight/core/prediction"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/core/report"
	"github.com/abmarghoub/EduPathInsight/ml/features"
	"github.com/abmarghoub/EduPathInsight/ml/gnn"
	"github.com/abmarghoub/EduPathInsight/ml/lime"
	"github.com/abmarghoub/EduPathInsight/services/broker"
	"github.com/abmarghoub/EduPathInsight/services/cache"
	"github.com/abmarghoub/EduPathInsight/services/email"
	"github.com/abmarghoub/EduPathInsight/services/push"
	"github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
	"github.com/abmarghoub/EduPathInsight/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// env is one server wired like the deployed services, over in-memory sqlite databases.
type env struct {
	app     Server
	conf    *core.Config
	metrics *Metrics

	presenceRepo presence.Repository
	activityRepo activity.Repository
	alertRepo    notification.Repository
	noticeRepo   notification.NotificationRepository

	predictions *prediction.Service
	broker      *broker.Memory
	email       *emailsvc.ConsoleServiceMock
}

// predictionSource feeds explanations from the in-process prediction service.
type predictionSource struct {
	svc *prediction.Service
}

func (s predictionSource) Latest(ctx context.Context, studentID string, moduleID int64) (explanation.Prediction, error) {
	p, err := s.svc.Latest(ctx, studentID, moduleID)
	if err != nil {
		return explanation.Prediction{}, err
	}
	return explanation.Prediction{
		ID:                 p.ID,
		StudentID:          p.StudentID,
		ModuleID:           p.ModuleID,
		SuccessProbability: p.SuccessProbability,
		DropoutProbability: p.DropoutProbability,
		RiskLevel:          p.RiskLevel,
		PredictedGrade:     p.PredictedGrade,
		ConfidenceScore:    p.ConfidenceScore,
	}, nil
}

func setup(t *testing.T) *env {
	conf := testutil.NewConfig(core.ServiceActivities)
	testutil.ParseEmailTemplates(t, conf)
	validate, translator := testutil.NewValidator()
	logger := &testutil.Logger{}
	modules := &testutil.Modules{
		Infos: map[int64]core.ModuleInfo{20: {ID: 20, Code: "ALG", Name: "Algorithms"}},
		Enrolled: map[int64][]core.Enrollment{
			20: {{StudentID: "s1", StudentUsername: "s.one", Status: core.EnrollmentApproved}},
		},
	}

	e := &env{
		conf:    conf,
		metrics: NewMetrics(conf.Service),
		broker:  broker.NewMemory(),
		email:   emailsvc.NewConsoleServiceMock(conf, logger),
	}

	// set up DBs & repos
	activitiesDB := testutil.PrepareDB(t, core.ServiceActivities)
	e.presenceRepo = sqlxrepos.NewPresenceRepository(activitiesDB)
	e.activityRepo = sqlxrepos.NewActivityRepository(activitiesDB)
	anomalyRepo := sqlxrepos.NewAnomalyRepository(activitiesDB)
	predictionRepo := sqlxrepos.NewPredictionRepository(testutil.PrepareDB(t, core.ServicePrediction))
	explanationDB := testutil.PrepareDB(t, core.ServiceExplainability)
	notificationDB := testutil.PrepareDB(t, core.ServiceNotification)
	e.alertRepo = sqlxrepos.NewAlertRepository(notificationDB)
	e.noticeRepo = sqlxrepos.NewNotificationRepository(notificationDB)

	// set up services
	presenceSvc := presence.NewService(e.presenceRepo, modules, e.broker, conf, logger, validate, translator)
	activitySvc := activity.NewService(e.activityRepo, modules, e.broker, conf, logger, validate, translator)
	anomalySvc := anomaly.NewService(anomalyRepo, presenceSvc, activitySvc, e.broker, conf, logger)

	model := gnn.NewSeeded(conf.Model.Version, conf.Model.Seed, gnn.DefaultHiddenDim, gnn.DefaultNumLayers)
	collector := features.NewCollector(presenceSvc, activitySvc)
	e.predictions = prediction.NewService(predictionRepo, model, collector, modules, cache.NewMemory(), e.broker, conf, logger, validate)

	explainer := lime.New(features.Names, lime.WithSamples(conf.Explainer.Samples), lime.WithSeed(conf.Explainer.Seed))
	explanationSvc := explanation.NewService(
		sqlxrepos.NewExplanationRepository(explanationDB),
		predictionSource{svc: e.predictions},
		collector,
		model,
		explainer,
		logger,
	)
	reportSvc := report.NewService(sqlxrepos.NewReportRepository(explanationDB), explanationSvc, logger)
	notificationSvc := notification.NewService(
		e.alertRepo,
		e.noticeRepo,
		e.email,
		pushsvc.NewConsoleService(logger),
		conf,
		logger,
		validate,
	)

	// set up server
	e.app = NewServer(ServerDeps{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		Metrics:         e.metrics,
		PresenceSvc:     presenceSvc,
		ActivitySvc:     activitySvc,
		AnomalySvc:      anomalySvc,
		PredictionSvc:   e.predictions,
		ExplanationSvc:  explanationSvc,
		ReportSvc:       reportSvc,
		NotificationSvc: notificationSvc,
	})
	return e
}

func (e *env) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	e.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, actor core.Actor) string {
	token, err := GenerateToken(NewClaims(actor, conf), conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, e *env, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			if tt.wantCode == 0 {
				tt.wantCode = http.StatusOK
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			e.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}
