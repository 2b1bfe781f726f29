package echoapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/services/clients"
	"github.com/abmarghoub/EduPathInsight/tests"
)

func TestAppHTTPErrorHandler(t *testing.T) {
	validate, translator := testutil.NewValidator()
	type payload struct {
		Name string `json:"name" validate:"required"`
	}
	vErr := validate.Struct(payload{})
	require.IsType(t, validator.ValidationErrors{}, vErr)

	tests := []struct {
		name         string
		err          error
		debug        bool
		wantCode     int
		wantBody     map[string]interface{}
		wantShutdown bool
		wantLevel    string
	}{
		{
			name:     "validator errors",
			err:      errors.Wrap(vErr, "validating"),
			wantCode: http.StatusBadRequest,
			wantBody: map[string]interface{}{"name": "this field is required"},
		},
		{
			name:     "field errors",
			err:      core.NewValidationError(nil, core.FieldError{Field: "file", Error: "this field is required"}),
			wantCode: http.StatusBadRequest,
			wantBody: map[string]interface{}{"file": "this field is required"},
		},
		{
			name:     "plain validation error",
			err:      core.NewValidationError(errors.New("no approved enrollment")),
			wantCode: http.StatusBadRequest,
			wantBody: map[string]interface{}{"error": "no approved enrollment"},
		},
		{
			name:     "not found",
			err:      errors.Wrap(core.NotFoundError{Resource: "presence"}, "fetching"),
			wantCode: http.StatusNotFound,
			wantBody: map[string]interface{}{"error": "presence not found"},
		},
		{
			name:     "permission denied",
			err:      errors.Wrap(core.ErrPermissionDenied, "updating"),
			wantCode: http.StatusForbidden,
			wantBody: map[string]interface{}{"error": "permission denied"},
		},
		{
			name:     "http error",
			err:      errHttpForbidden,
			wantCode: http.StatusForbidden,
			wantBody: map[string]interface{}{"error": "permission denied"},
		},
		{
			name:     "missing jwt",
			err:      middleware.ErrJWTMissing,
			wantCode: http.StatusUnauthorized,
			wantBody: map[string]interface{}{"error": "missing or malformed jwt"},
		},
		{
			name:      "upstream",
			err:       errors.Wrap(&clients.UpstreamError{Service: clients.ServicePrediction, Status: http.StatusServiceUnavailable}, "explaining"),
			wantCode:  http.StatusBadGateway,
			wantBody:  map[string]interface{}{"error": "prediction service responded with status 503"},
			wantLevel: "warn",
		},
		{
			name:      "internal",
			err:       errors.New("db is gone"),
			wantCode:  http.StatusInternalServerError,
			wantBody:  map[string]interface{}{"error": "Internal Server Error"},
			wantLevel: "error",
		},
		{
			name:      "internal (debug)",
			err:       errors.New("db is gone"),
			debug:     true,
			wantCode:  http.StatusInternalServerError,
			wantBody:  map[string]interface{}{"error": "db is gone"},
			wantLevel: "error",
		},
		{
			name:         "shutdown",
			err:          errors.Wrap(core.NewShutdownError("integrity issue"), "creating"),
			wantCode:     http.StatusInternalServerError,
			wantBody:     map[string]interface{}{"error": "Internal Server Error"},
			wantShutdown: true,
			wantLevel:    "error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &testutil.Logger{}
			var shutdown bool
			handler := newAppHTTPErrorHandler(logger, translator, func() { shutdown = true })

			app := echo.New()
			app.Debug = tt.debug
			rec := httptest.NewRecorder()
			ctx := app.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			handler(tt.err, ctx)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body)
			assert.Equal(t, tt.wantShutdown, shutdown)
			if tt.wantLevel != "" {
				assert.Len(t, logger.Entries(tt.wantLevel), 1)
			} else {
				assert.Empty(t, logger.Entries(""))
			}
		})
	}
}

func TestClaims(t *testing.T) {
	conf := testutil.NewConfig(core.ServicePrediction)

	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateToken(NewClaims(testutil.Teacher, conf), conf.SecretKey)
		require.NoError(t, err)

		claims := new(Claims)
		parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(conf.SecretKey), nil
		})
		require.NoError(t, err)
		assert.True(t, parsed.Valid)
		assert.Equal(t, conf.AppName, claims.Issuer)
		assert.Equal(t, testutil.Teacher, claims.Actor())
	})

	t.Run("service token", func(t *testing.T) {
		token, err := ServiceTokenFunc(conf)()
		require.NoError(t, err)

		claims := new(Claims)
		_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(conf.SecretKey), nil
		})
		require.NoError(t, err)
		actor := claims.Actor()
		assert.Equal(t, "prediction-service", actor.ID)
		assert.True(t, actor.IsService())
		assert.True(t, actor.IsStaff())
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := GenerateToken(NewClaims(testutil.Student, conf), "other-secret")
		require.NoError(t, err)
		_, err = jwt.ParseWithClaims(token, new(Claims), func(*jwt.Token) (interface{}, error) {
			return []byte(conf.SecretKey), nil
		})
		assert.Error(t, err)
	})
}
