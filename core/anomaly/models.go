package anomaly

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/abmarghoub/EduPathInsight/core"
)

// Types
const (
	TypeHighAbsenteeism         = "HIGH_ABSENTEEISM"
	TypeFrequentLateness        = "FREQUENT_LATENESS"
	TypeNoActivityParticipation = "NO_ACTIVITY_PARTICIPATION"
	TypeInconsistentPresence    = "INCONSISTENT_PRESENCE"
)

// Statuses
const (
	StatusActive       = "ACTIVE"
	StatusAcknowledged = "ACKNOWLEDGED"
	StatusResolved     = "RESOLVED"
	StatusDismissed    = "DISMISSED"
)

// Actions accepted on an anomaly.
const (
	ActionAcknowledge = "acknowledge"
	ActionResolve     = "resolve"
	ActionDismiss     = "dismiss"
)

var (
	Types    = []string{TypeHighAbsenteeism, TypeFrequentLateness, TypeNoActivityParticipation, TypeInconsistentPresence}
	Statuses = []string{StatusActive, StatusAcknowledged, StatusResolved, StatusDismissed}
	Actions  = []string{ActionAcknowledge, ActionResolve, ActionDismiss}
)

const actionTag = "anomalyaction"

// InitValidators registers the anomaly validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterEnumValidation(validate, translator, actionTag, Actions...)
}

// Anomaly is a suspicious attendance or participation pattern of a student in a module.
type Anomaly struct {
	ID             string                 `json:"id"`
	StudentID      string                 `json:"student_id"`
	ModuleID       int64                  `json:"module_id"`
	Type           string                 `json:"anomaly_type"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Severity       string                 `json:"severity"`
	Status         string                 `json:"status"`
	Metadata       map[string]interface{} `json:"metadata"`
	DetectedAt     time.Time              `json:"detected_at"` // UTC
	AcknowledgedAt *time.Time             `json:"acknowledged_at"`
	ResolvedAt     *time.Time             `json:"resolved_at"`
}

// CheckRequest asks for a detection run on one student in one module.
type CheckRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ModuleID  int64  `json:"module_id" validate:"required,gt=0"`
}

func (cr *CheckRequest) Validate(validate *validator.Validate) error {
	cr.StudentID = core.CleanString(cr.StudentID)
	return validate.Struct(cr)
}

// ActionRequest changes the status of an anomaly.
type ActionRequest struct {
	Action string `json:"action" validate:"required,anomalyaction"`
}

func (ar *ActionRequest) Validate(validate *validator.Validate) error {
	ar.Action = strings.ToLower(core.CleanString(ar.Action))
	return validate.Struct(ar)
}

type QueryFilter struct {
	StudentID string
	ModuleID  *int64
	Type      string
	Status    string
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.Type = strings.ToUpper(core.CleanString(qf.Type))
	qf.Status = strings.ToUpper(core.CleanString(qf.Status))
}
