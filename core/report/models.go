package report

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/explanation"
)

// Types
const (
	TypeDashboard = "DASHBOARD"
	TypeMobile    = "MOBILE"
	TypeDetailed  = "DETAILED"
)

// Recommendation types
const (
	RecHighDropoutRisk       = "HIGH_DROPOUT_RISK"
	RecLowSuccessProbability = "LOW_SUCCESS_PROBABILITY"
	RecNegativeFactor        = "NEGATIVE_FACTOR"
	RecPositiveFactor        = "POSITIVE_FACTOR"
)

// Methodology is stored with DETAILED reports.
const Methodology = "LIME (Local Interpretable Model-agnostic Explanations)"

var Types = []string{TypeDashboard, TypeMobile, TypeDetailed}

const typeTag = "reporttype"

// InitValidators registers the report validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterEnumValidation(validate, translator, typeTag, Types...)
}

type (
	Recommendation struct {
		Type        string   `json:"type"`
		Priority    string   `json:"priority"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Actions     []string `json:"actions"`
	}

	Report struct {
		ID              string                 `json:"id"`
		StudentID       string                 `json:"student_id"`
		ModuleID        int64                  `json:"module_id"`
		ReportType      string                 `json:"report_type"`
		ReportData      map[string]interface{} `json:"report_data"`
		Summary         string                 `json:"summary"`
		KeyFactors      []explanation.Factor   `json:"key_factors"`
		Recommendations []Recommendation       `json:"recommendations"`
		CreatedAt       time.Time              `json:"created_at"` // UTC
		UpdatedAt       time.Time              `json:"updated_at"` // UTC
	}

	// GenerateRequest asks for a new report; ReportType defaults to DASHBOARD.
	GenerateRequest struct {
		StudentID  string `json:"student_id" validate:"required"`
		ModuleID   int64  `json:"module_id" validate:"required,gt=0"`
		ReportType string `json:"report_type" validate:"reporttype"`
	}
)

func (gr *GenerateRequest) Validate(validate *validator.Validate) error {
	gr.StudentID = core.CleanString(gr.StudentID)
	gr.ReportType = NormalizeType(gr.ReportType)
	return validate.Struct(gr)
}

// NormalizeType upper-cases t, defaulting to DASHBOARD.
func NormalizeType(t string) string {
	t = strings.ToUpper(core.CleanString(t))
	if t == "" {
		return TypeDashboard
	}
	return t
}

// IsValidType reports whether t is one of Types.
func IsValidType(t string) bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}
