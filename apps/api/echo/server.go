package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/explanation"
	"github.com/abmarghoub/EduPathInsight/core/notification"
	"github.com/abmarghoub/EduPathInsight/core/prediction"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/core/report"
)

type (
	// ServerDeps holds what the server needs; routes of a nil service are not registered.
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Metrics    *Metrics

		PresenceSvc     *presence.Service
		ActivitySvc     *activity.Service
		AnomalySvc      *anomaly.Service
		PredictionSvc   *prediction.Service
		ExplanationSvc  *explanation.Service
		ReportSvc       *report.Service
		NotificationSvc *notification.Service
	}

	Server interface {
		http.Handler
		Start()
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
		Shutdown(context.Context) error
		Close() error
	}

	server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(deps ServerDeps) Server {
	s := &server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if s.deps.Metrics != nil {
		s.app.Use(s.deps.Metrics.middleware())
	}
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if len(conf.Server.CORSOrigins) > 0 {
		s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: conf.Server.CORSOrigins}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", health)

	api := s.app.Group("/api")
	jwt := middleware.JWTWithConfig(jwtConfig(conf.SecretKey))
	d := s.deps

	if d.PresenceSvc != nil && d.ActivitySvc != nil {
		registerActivitiesAPI(api, jwt, d.PresenceSvc, d.ActivitySvc, d.AnomalySvc, d.Validate)
	}
	if d.PredictionSvc != nil {
		registerPredictionAPI(api, jwt, d.PredictionSvc, d.Validate)
	}
	if d.ExplanationSvc != nil && d.ReportSvc != nil {
		registerExplainabilityAPI(api, jwt, d.ExplanationSvc, d.ReportSvc, d.Validate)
	}
	if d.NotificationSvc != nil {
		registerNotificationAPI(api, jwt, d.NotificationSvc, d.Validate)
	}
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" "+s.deps.Conf.Service+" API!")
}

func health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "healthy"})
}
