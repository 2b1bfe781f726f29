package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core/explanation"
	"github.com/abmarghoub/EduPathInsight/core/prediction"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/core/report"
	"github.com/abmarghoub/EduPathInsight/ml/features"
	"github.com/abmarghoub/EduPathInsight/ml/gnn"
	"github.com/abmarghoub/EduPathInsight/tests"
)

func Test_predictionApi(t *testing.T) {
	e := setup(t)
	teacherToken := getToken(t, e.conf, testutil.Teacher)
	studentToken := getToken(t, e.conf, testutil.Student)
	testutil.CreatePresences(t, e.presenceRepo, testutil.Student.ID, 20, day, presence.StatusPresent, presence.StatusLate)

	runHTTPTests(t, e, []httpTest{
		{
			name: "Auth required", method: http.MethodPost, path: "/api/predictions/student-module",
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "predict (invalid)", method: http.MethodPost, path: "/api/predictions/student-module", token: teacherToken,
			body:     []byte(`{"student_id": "  "}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"student_id": "this field is required", "module_id": "this field is required"}),
		},
		{
			name: "predict (someone else)", method: http.MethodPost, path: "/api/predictions/student-module", token: studentToken,
			body:     []byte(`{"student_id": "student-2", "module_id": 20}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "by student (someone else)", path: "/api/predictions/student/student-2", token: studentToken,
			wantCode: http.StatusForbidden,
		},
		{name: "risk modules (staff only)", path: "/api/trajectories/risk-modules", token: studentToken, wantCode: http.StatusForbidden},
		{name: "training status (staff only)", path: "/api/training/status", token: studentToken, wantCode: http.StatusForbidden},
		{name: "latest (bad module)", path: "/api/predictions/student/student-1/module/x", token: studentToken, wantCode: http.StatusNotFound},
	})

	var first prediction.Prediction
	t.Run("predict (own)", func(t *testing.T) {
		body := []byte(`{"student_id": "student-1", "module_id": 20}`)
		req, rec := newAuthRequest(http.MethodPost, "/api/predictions/student-module", studentToken, body)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		unmarshal(t, rec, &first)
		assert.NotEmpty(t, first.ID)
		assert.Equal(t, e.conf.Model.Version, first.ModelVersion)
		assert.Equal(t, gnn.RiskLevel(first.SuccessProbability, first.DropoutProbability), first.RiskLevel)
		assert.Equal(t, 0.5, first.Features[features.PresenceRate])
		assert.Equal(t, 0.5, first.Features[features.LateRate])
	})

	t.Run("predict (cached)", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/predictions/student-module", teacherToken, []byte(`{"student_id": "student-1", "module_id": 20}`))
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)

		var got prediction.Prediction
		unmarshal(t, rec, &got)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("latest", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/predictions/student/student-1/module/20", studentToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)

		var got prediction.Prediction
		unmarshal(t, rec, &got)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("by student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/predictions/student/student-1", teacherToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{first.ID}, recordIDs(t, rec))
	})

	var traj prediction.Trajectory
	t.Run("trajectory", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/trajectories/student-module", teacherToken, []byte(`{"student_id": "student-1", "module_id": 20}`))
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		unmarshal(t, rec, &traj)
		assert.NotEmpty(t, traj.ID)
		assert.Equal(t, 0.5, traj.Data.CurrentProgress)
		assert.Equal(t, prediction.ExpectedProgress, traj.Data.ExpectedProgress)

		req, rec = newAuthRequest(http.MethodGet, "/api/trajectories/student/student-1/module/20", studentToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)

		var stored prediction.Trajectory
		unmarshal(t, rec, &stored)
		assert.Equal(t, traj.ID, stored.ID)
	})

	t.Run("risk modules", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/trajectories/risk-modules", teacherToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got []prediction.RiskModule
		unmarshal(t, rec, &got)
		require.Len(t, got, 1)
		assert.Equal(t, int64(20), got[0].ModuleID)
		assert.Equal(t, "ALG", got[0].ModuleCode)
		assert.Equal(t, 1, got[0].TotalStudents)
	})

	t.Run("training status", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/training/status", teacherToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)

		var got prediction.ModelStatus
		unmarshal(t, rec, &got)
		assert.Equal(t, "ready", got.Status)
		assert.Equal(t, gnn.SourceSeeded, got.Source)
		assert.Equal(t, features.Names, got.Features)
	})
}

func Test_explainabilityApi(t *testing.T) {
	e := setup(t)
	teacherToken := getToken(t, e.conf, testutil.Teacher)
	studentToken := getToken(t, e.conf, testutil.Student)
	testutil.CreatePresences(t, e.presenceRepo, testutil.Student.ID, 20, day,
		presence.StatusPresent, presence.StatusAbsent, presence.StatusPresent)

	runHTTPTests(t, e, []httpTest{
		{name: "Auth required", path: "/api/explainability/explain/student-1/20", wantCode: http.StatusUnauthorized},
		{name: "explain (someone else)", path: "/api/explainability/explain/student-2/20", token: studentToken, wantCode: http.StatusForbidden},
		{
			name: "features (bad top)", path: "/api/explainability/features/student-1/20?top=zero", token: studentToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"top": "must be a positive integer"}),
		},
		{
			name: "report (bad type)", path: "/api/explainability/report/student-1/20?type=poster", token: studentToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"type": "invalid report type"}),
		},
		{
			name: "generate (invalid)", method: http.MethodPost, path: "/api/explainability/reports/generate", token: teacherToken,
			body:     []byte(`{"student_id": "student-1", "module_id": 20, "report_type": "poster"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"report_type": "must be one of: DASHBOARD, MOBILE, DETAILED"}),
		},
		{name: "reports (empty)", path: "/api/explainability/reports/student/student-1", token: studentToken, wantData: marchallList(t)},
	})

	var expl explanation.Explanation
	t.Run("explain", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/explainability/explain/student-1/20", studentToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		unmarshal(t, rec, &expl)
		assert.NotEmpty(t, expl.ID)
		assert.Equal(t, "LIME", expl.ExplanationType)
		assert.Len(t, expl.FeatureImportance, features.Count)
		require.NotNil(t, expl.Prediction)
		assert.Equal(t, expl.Prediction.ID, *expl.PredictionID)
	})

	t.Run("explanations", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/explainability/explanations/student/student-1", teacherToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{expl.ID}, recordIDs(t, rec))
	})

	t.Run("features", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/explainability/features/student-1/20", studentToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)

		var all []explanation.FeatureImportance
		unmarshal(t, rec, &all)
		assert.Len(t, all, features.Count)

		req, rec = newAuthRequest(http.MethodGet, "/api/explainability/features/student-1/20?top=3", studentToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)

		var top []explanation.FeatureImportance
		unmarshal(t, rec, &top)
		assert.Len(t, top, 3)
	})

	t.Run("reports", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/explainability/report/student-1/20?type=mobile", studentToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var mobile report.Report
		unmarshal(t, rec, &mobile)
		assert.Equal(t, report.TypeMobile, mobile.ReportType)
		assert.LessOrEqual(t, len(mobile.KeyFactors), 3)
		assert.NotEmpty(t, mobile.Summary)

		req, rec = newAuthRequest(http.MethodPost, "/api/explainability/reports/generate", teacherToken, []byte(`{"student_id": "student-1", "module_id": 20}`))
		e.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var dashboard report.Report
		unmarshal(t, rec, &dashboard)
		assert.Equal(t, report.TypeDashboard, dashboard.ReportType)

		req, rec = newAuthRequest(http.MethodGet, "/api/explainability/reports/student/student-1?type=MOBILE", studentToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{mobile.ID}, recordIDs(t, rec))

		req, rec = newAuthRequest(http.MethodGet, "/api/explainability/reports/student/student-1", studentToken)
		e.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.ElementsMatch(t, []string{mobile.ID, dashboard.ID}, recordIDs(t, rec))
	})
}
