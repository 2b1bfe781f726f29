package testutil

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/abmarghoub/EduPathInsight/assets"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/notification"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/core/report"
	"github.com/abmarghoub/EduPathInsight/storage/database"
)

// NewConfig returns the configuration used by tests: sqlite storage, no broker nor cache.
func NewConfig(service string) *core.Config {
	return &core.Config{
		AppName:          "EduPath Insight",
		Service:          service,
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		SecretKey:        "test-secret-key",
		DefaultFromEmail: mail.Address{Name: "EduPath Insight", Address: "noreply@edupath.test"},
		FrontendBaseURL:  "http://localhost:3000",
		Server: core.ServerConfig{
			Address:            ":0",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
			DisableReqLogs:     true,
			CORSOrigins:        []string{"*"},
		},
		Database: core.DatabaseConfig{Engine: database.EngineSQLite, Name: service},
		Broker: core.BrokerConfig{
			Exchange:             "edupath.exchange",
			ActivityRoutingKey:   "activity.routing.key",
			PredictionRoutingKey: "prediction.routing.key",
			Queue:                "notification.queue",
			Bindings:             []string{"activity.#", "prediction.#", "module.#"},
		},
		Cache: core.CacheConfig{TTL: time.Hour},
		Services: core.ServicesConfig{
			Timeout:    time.Second,
			MaxRetries: 1,
		},
		Model:     core.ModelConfig{Version: "test", Seed: 7},
		Explainer: core.ExplainerConfig{Samples: 300, Seed: 7},
		Anomaly: core.AnomalyConfig{
			AbsenteeismThreshold:     0.3,
			HighAbsenteeismThreshold: 0.5,
			LatenessThreshold:        3,
			MinPatternSessions:       4,
		},
		Prediction: core.PredictionConfig{RiskModuleAlertThreshold: 0.5},
		Notification: core.NotificationConfig{
			StaffEmails:      []string{"staff@edupath.test"},
			EmailMinSeverity: core.SeverityHigh,
		},
	}
}

// NewValidator returns a validator knowing every custom tag.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	presence.InitValidators(validate, translator)
	activity.InitValidators(validate, translator)
	anomaly.InitValidators(validate, translator)
	report.InitValidators(validate, translator)
	notification.InitValidators(validate, translator)
	return validate, translator
}

// PrepareDB opens a migrated in-memory database for service, closed with the test.
func PrepareDB(t *testing.T, service string) *sqlx.DB {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("PrepareDB() open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(context.Background(), db, database.EngineSQLite, service); err != nil {
		t.Fatalf("PrepareDB() migrate failed: %v", err)
	}
	return db
}

// ParseEmailTemplates loads the embedded email templates.
func ParseEmailTemplates(t *testing.T, conf *core.Config) {
	t.Helper()
	if err := core.ParseEmailTemplates(assets.FS, assets.EmailTemplatesDir, conf); err != nil {
		t.Fatalf("ParseEmailTemplates() failed: %v", err)
	}
}

// LogEntry is one call recorded by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records every entry instead of printing it.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Entries returns the entries of level, or all of them when level is empty.
func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Modules is a fixed core.ModuleDirectory.
type Modules struct {
	Infos       map[int64]core.ModuleInfo
	Enrolled    map[int64][]core.Enrollment
	Unreachable bool
}

var _ core.ModuleDirectory = (*Modules)(nil)

func (m *Modules) GetModule(_ context.Context, id int64) (core.ModuleInfo, error) {
	if m.Unreachable {
		return core.ModuleInfo{}, fmt.Errorf("module service unreachable")
	}
	info, ok := m.Infos[id]
	if !ok {
		return core.ModuleInfo{}, core.NotFoundError{Resource: "module"}
	}
	return info, nil
}

func (m *Modules) Enrollments(_ context.Context, moduleID int64) ([]core.Enrollment, error) {
	if m.Unreachable {
		return nil, fmt.Errorf("module service unreachable")
	}
	return m.Enrolled[moduleID], nil
}

// Actors
var (
	Admin   = core.Actor{ID: "admin-1", Username: "admin", Roles: []string{core.RoleAdmin + "super"}}
	Teacher = core.Actor{ID: "teacher-1", Username: "prof.alami", Roles: []string{core.RoleTeacher + "main"}}
	Other   = core.Actor{ID: "teacher-2", Username: "prof.bennani", Roles: []string{core.RoleTeacher + "main"}}
	Student = core.Actor{ID: "student-1", Username: "s.idrissi", Roles: []string{core.RoleStudent + "enrolled"}}
)

// Presence builds a presence recorded by Teacher.
func Presence(studentID string, moduleID int64, day core.Date, status string) presence.Presence {
	now := time.Now().UTC()
	return presence.Presence{
		StudentID:       studentID,
		StudentUsername: studentID,
		ModuleID:        moduleID,
		SessionDate:     day,
		Status:          status,
		TeacherID:       Teacher.ID,
		TeacherUsername: Teacher.Username,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Activity builds an activity recorded by Teacher.
func Activity(studentID string, moduleID int64, day core.Date, completed bool, score *float64) activity.Activity {
	now := time.Now().UTC()
	return activity.Activity{
		StudentID:          studentID,
		StudentUsername:    studentID,
		ModuleID:           moduleID,
		ActivityType:       activity.TypeAssignment,
		Title:              "Assignment",
		ActivityDate:       day,
		Completed:          completed,
		ParticipationScore: score,
		TeacherID:          Teacher.ID,
		TeacherUsername:    Teacher.Username,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// CreatePresences stores one presence per status, a day apart starting at start.
func CreatePresences(t *testing.T, repo presence.Repository, studentID string, moduleID int64, start core.Date, statuses ...string) []presence.Presence {
	t.Helper()
	out := make([]presence.Presence, 0, len(statuses))
	for i, status := range statuses {
		day := core.DateOf(start.AddDate(0, 0, i))
		p, err := repo.CreatePresence(context.Background(), Presence(studentID, moduleID, day, status))
		if err != nil {
			t.Fatalf("CreatePresences() failed: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// CreateActivities stores one activity per completion flag, a day apart starting at start.
func CreateActivities(t *testing.T, repo activity.Repository, studentID string, moduleID int64, start core.Date, completed ...bool) []activity.Activity {
	t.Helper()
	out := make([]activity.Activity, 0, len(completed))
	for i, done := range completed {
		day := core.DateOf(start.AddDate(0, 0, i))
		a, err := repo.CreateActivity(context.Background(), Activity(studentID, moduleID, day, done, nil))
		if err != nil {
			t.Fatalf("CreateActivities() failed: %v", err)
		}
		out = append(out, a)
	}
	return out
}

func Float(v float64) *float64 { return &v }
func String(s string) *string  { return &s }
