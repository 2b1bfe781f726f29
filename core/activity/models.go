package activity

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/abmarghoub/EduPathInsight/core"
)

// Types
const (
	TypeLecture    = "LECTURE"
	TypePractical  = "PRACTICAL"
	TypeLab        = "LAB"
	TypeAssignment = "ASSIGNMENT"
	TypeProject    = "PROJECT"
	TypeExam       = "EXAM"
	TypeOther      = "OTHER"
)

var Types = []string{TypeLecture, TypePractical, TypeLab, TypeAssignment, TypeProject, TypeExam, TypeOther}

const typeTag = "activitytype"

// InitValidators registers the activity validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterEnumValidation(validate, translator, typeTag, Types...)
}

// Activity records the participation of a student in one learning activity of a module.
type Activity struct {
	ID                 string    `json:"id"`
	StudentID          string    `json:"student_id"`
	StudentUsername    string    `json:"student_username"`
	ModuleID           int64     `json:"module_id"`
	ModuleCode         string    `json:"module_code"`
	ModuleName         string    `json:"module_name"`
	ActivityType       string    `json:"activity_type"`
	Title              string    `json:"title"`
	Description        *string   `json:"description"`
	ActivityDate       core.Date `json:"activity_date"`
	DurationMinutes    *int      `json:"duration_minutes"`
	Completed          bool      `json:"completed"`
	ParticipationScore *float64  `json:"participation_score"`
	Notes              *string   `json:"notes"`
	TeacherID          string    `json:"teacher_id"`
	TeacherUsername    string    `json:"teacher_username"`
	CreatedAt          time.Time `json:"created_at"` // UTC
	UpdatedAt          time.Time `json:"updated_at"` // UTC
}

// NewActivity contains information needed to record an Activity.
type NewActivity struct {
	StudentID          string    `json:"student_id" validate:"required"`
	StudentUsername    string    `json:"student_username"`
	ModuleID           int64     `json:"module_id" validate:"required,gt=0"`
	ActivityType       string    `json:"activity_type" validate:"required,activitytype"`
	Title              string    `json:"title" validate:"required,max=255"`
	Description        *string   `json:"description"`
	ActivityDate       core.Date `json:"activity_date"`
	DurationMinutes    *int      `json:"duration_minutes" validate:"omitempty,min=0"`
	Completed          bool      `json:"completed"`
	ParticipationScore *float64  `json:"participation_score" validate:"omitempty,min=0,max=100"`
	Notes              *string   `json:"notes"`
}

func (na *NewActivity) Validate(validate *validator.Validate) error {
	na.StudentID = core.CleanString(na.StudentID)
	na.StudentUsername = core.CleanString(na.StudentUsername)
	na.ActivityType = strings.ToUpper(core.CleanString(na.ActivityType))
	na.Title = core.CleanString(na.Title)
	na.Description = cleanPtr(na.Description)
	na.Notes = cleanPtr(na.Notes)

	if err := validate.Struct(na); err != nil {
		return err
	}
	if na.ActivityDate.IsZero() {
		return core.NewValidationError(nil, core.FieldError{Field: "activity_date", Error: "this field is required"})
	}
	return nil
}

// UpdateActivity defines what information may be provided to modify an existing Activity.
// Nil fields are left untouched.
type UpdateActivity struct {
	StudentUsername    *string    `json:"student_username"`
	ActivityType       *string    `json:"activity_type" validate:"omitempty,activitytype"`
	Title              *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description        *string    `json:"description"`
	ActivityDate       *core.Date `json:"activity_date"`
	DurationMinutes    *int       `json:"duration_minutes" validate:"omitempty,min=0"`
	Completed          *bool      `json:"completed"`
	ParticipationScore *float64   `json:"participation_score" validate:"omitempty,min=0,max=100"`
	Notes              *string    `json:"notes"`
}

func (ua *UpdateActivity) Validate(validate *validator.Validate) error {
	if ua.ActivityType != nil {
		t := strings.ToUpper(core.CleanString(*ua.ActivityType))
		ua.ActivityType = &t
	}
	if ua.Title != nil {
		t := core.CleanString(*ua.Title)
		ua.Title = &t
	}
	return validate.Struct(ua)
}

func (ua UpdateActivity) apply(a *Activity) {
	if ua.StudentUsername != nil {
		a.StudentUsername = core.CleanString(*ua.StudentUsername)
	}
	if ua.ActivityType != nil {
		a.ActivityType = *ua.ActivityType
	}
	if ua.Title != nil {
		a.Title = *ua.Title
	}
	if ua.Description != nil {
		a.Description = ua.Description
	}
	if ua.ActivityDate != nil && !ua.ActivityDate.IsZero() {
		a.ActivityDate = *ua.ActivityDate
	}
	if ua.DurationMinutes != nil {
		a.DurationMinutes = ua.DurationMinutes
	}
	if ua.Completed != nil {
		a.Completed = *ua.Completed
	}
	if ua.ParticipationScore != nil {
		a.ParticipationScore = ua.ParticipationScore
	}
	if ua.Notes != nil {
		a.Notes = ua.Notes
	}
}

type QueryFilter struct {
	StudentID    string
	ModuleID     *int64
	ActivityType string
	Completed    *bool
	From         core.Date
	To           core.Date
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.ActivityType = strings.ToUpper(core.CleanString(qf.ActivityType))
}

// Statistics summarizes the activities of a student in a module.
type Statistics struct {
	TotalActivities           int      `json:"total_activities"`
	Completed                 int      `json:"completed"`
	NotCompleted              int      `json:"not_completed"`
	CompletionRate            float64  `json:"completion_rate"`             // percentage, 2 decimals
	AverageParticipationScore *float64 `json:"average_participation_score"` // nil when no activity is scored
}

func ComputeStatistics(activities []Activity) Statistics {
	var (
		stats  Statistics
		sum    float64
		scored int
	)
	for _, a := range activities {
		stats.TotalActivities++
		if a.Completed {
			stats.Completed++
		}
		if a.ParticipationScore != nil {
			sum += *a.ParticipationScore
			scored++
		}
	}
	stats.NotCompleted = stats.TotalActivities - stats.Completed
	stats.CompletionRate = core.Percent(stats.Completed, stats.TotalActivities)
	if scored > 0 {
		avg := core.Round(sum/float64(scored), 2)
		stats.AverageParticipationScore = &avg
	}
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
