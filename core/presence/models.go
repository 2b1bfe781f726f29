package presence

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/abmarghoub/EduPathInsight/core"
)

// Statuses
const (
	StatusPresent = "PRESENT"
	StatusAbsent  = "ABSENT"
	StatusLate    = "LATE"
	StatusExcused = "EXCUSED"
)

var Statuses = []string{StatusPresent, StatusAbsent, StatusLate, StatusExcused}

const statusTag = "presencestatus"

// InitValidators registers the presence validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterEnumValidation(validate, translator, statusTag, Statuses...)
}

// Presence records the attendance of a student at one session of a module.
type Presence struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"student_id"`
	StudentUsername string    `json:"student_username"`
	ModuleID        int64     `json:"module_id"`
	ModuleCode      string    `json:"module_code"`
	ModuleName      string    `json:"module_name"`
	SessionDate     core.Date `json:"session_date"`
	SessionTime     *string   `json:"session_time"`
	Status          string    `json:"status"`
	Notes           *string   `json:"notes"`
	TeacherID       string    `json:"teacher_id"`
	TeacherUsername string    `json:"teacher_username"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
}

// NewPresence contains information needed to record a Presence.
type NewPresence struct {
	StudentID       string    `json:"student_id" validate:"required"`
	StudentUsername string    `json:"student_username"`
	ModuleID        int64     `json:"module_id" validate:"required,gt=0"`
	SessionDate     core.Date `json:"session_date"`
	SessionTime     *string   `json:"session_time" validate:"omitempty,timeofday"`
	Status          string    `json:"status" validate:"required,presencestatus"`
	Notes           *string   `json:"notes"`
}

func (np *NewPresence) Validate(validate *validator.Validate) error {
	np.StudentID = core.CleanString(np.StudentID)
	np.StudentUsername = core.CleanString(np.StudentUsername)
	np.Status = strings.ToUpper(core.CleanString(np.Status))
	np.SessionTime = cleanTime(np.SessionTime)
	np.Notes = cleanPtr(np.Notes)

	if err := validate.Struct(np); err != nil {
		return err
	}
	if np.SessionDate.IsZero() {
		return core.NewValidationError(nil, core.FieldError{Field: "session_date", Error: "this field is required"})
	}
	return nil
}

// UpdatePresence defines what information may be provided to modify an existing Presence.
// Nil fields are left untouched.
type UpdatePresence struct {
	StudentUsername *string    `json:"student_username"`
	SessionDate     *core.Date `json:"session_date"`
	SessionTime     *string    `json:"session_time" validate:"omitempty,timeofday"`
	Status          *string    `json:"status" validate:"omitempty,presencestatus"`
	Notes           *string    `json:"notes"`
}

func (up *UpdatePresence) Validate(validate *validator.Validate) error {
	up.SessionTime = cleanTime(up.SessionTime)
	if up.Status != nil {
		s := strings.ToUpper(core.CleanString(*up.Status))
		up.Status = &s
	}
	return validate.Struct(up)
}

func (up UpdatePresence) apply(p *Presence) {
	if up.StudentUsername != nil {
		p.StudentUsername = core.CleanString(*up.StudentUsername)
	}
	if up.SessionDate != nil && !up.SessionDate.IsZero() {
		p.SessionDate = *up.SessionDate
	}
	if up.SessionTime != nil {
		p.SessionTime = up.SessionTime
	}
	if up.Status != nil {
		p.Status = *up.Status
	}
	if up.Notes != nil {
		p.Notes = up.Notes
	}
}

type QueryFilter struct {
	StudentID string
	ModuleID  *int64
	Status    string
	From      core.Date
	To        core.Date
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.Status = strings.ToUpper(core.CleanString(qf.Status))
}

// Statistics summarizes the presences of a student in a module.
type Statistics struct {
	TotalSessions int     `json:"total_sessions"`
	Present       int     `json:"present"`
	Absent        int     `json:"absent"`
	Late          int     `json:"late"`
	Excused       int     `json:"excused"`
	PresenceRate  float64 `json:"presence_rate"` // percentage, 2 decimals
}

// AbsenceRate returns the absent/total ratio in [0, 1].
func (s Statistics) AbsenceRate() float64 {
	if s.TotalSessions == 0 {
		return 0
	}
	return float64(s.Absent) / float64(s.TotalSessions)
}

func ComputeStatistics(presences []Presence) Statistics {
	var stats Statistics
	for _, p := range presences {
		stats.TotalSessions++
		switch p.Status {
		case StatusPresent:
			stats.Present++
		case StatusAbsent:
			stats.Absent++
		case StatusLate:
			stats.Late++
		case StatusExcused:
			stats.Excused++
		}
	}
	stats.PresenceRate = core.Percent(stats.Present, stats.TotalSessions)
	return stats
}

func cleanPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := core.CleanString(*s)
	if v == "" {
		return nil
	}
	return &v
}

func cleanTime(s *string) *string {
	s = cleanPtr(s)
	if s == nil {
		return nil
	}
	v := core.NormalizeTimeOfDay(*s)
	return &v
}
