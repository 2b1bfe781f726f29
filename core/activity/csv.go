package activity

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

var (
	exportColumns = []string{
		"id", "student_id", "student_username", "module_id", "module_code", "module_name",
		"activity_type", "title", "description", "activity_date", "duration_minutes",
		"completed", "participation_score", "notes",
		"teacher_id", "teacher_username", "created_at", "updated_at",
	}
	templateColumns = []string{
		"student_id", "student_username", "student_email", "module_id", "module_code", "module_name",
		"activity_type", "title", "description", "activity_date", "duration_minutes",
		"completed", "participation_score", "notes",
	}
	requiredColumns = []string{"student_id", "module_id", "activity_type", "title", "activity_date"}

	errNoApprovedEnrollment = errors.New("no approved enrollment found for this module")
)

const (
	exportSheet   = "Activities"
	templateSheet = "Activities Template"
)

// Export writes the activities matching filter as a sheet of the given format.
func (svc *Service) Export(ctx context.Context, w io.Writer, filter QueryFilter, format core.SheetFormat) error {
	activities, err := svc.Query(ctx, filter, nil)
	if err != nil {
		return errors.Wrap(err, "querying activities")
	}

	cw := core.NewSheetWriter(format, w, exportSheet, exportColumns...)
	for _, a := range activities {
		var duration, score string
		if a.DurationMinutes != nil {
			duration = strconv.Itoa(*a.DurationMinutes)
		}
		if a.ParticipationScore != nil {
			score = strconv.FormatFloat(*a.ParticipationScore, 'f', -1, 64)
		}
		cw.Write(
			a.ID, a.StudentID, a.StudentUsername, strconv.FormatInt(a.ModuleID, 10), a.ModuleCode, a.ModuleName,
			a.ActivityType, a.Title, core.StrOrEmpty(a.Description), a.ActivityDate.String(), duration,
			strconv.FormatBool(a.Completed), score, core.StrOrEmpty(a.Notes),
			a.TeacherID, a.TeacherUsername, a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339),
		)
	}
	return cw.Flush()
}

// Template writes an import sheet with one row per approved enrollment of the module.
// activityType may be empty; everything but the student, module and date is left blank.
func (svc *Service) Template(ctx context.Context, w io.Writer, moduleID int64, date core.Date, activityType string, format core.SheetFormat) error {
	if svc.modules == nil {
		return errors.New("module directory not configured")
	}
	enrollments, err := svc.modules.Enrollments(ctx, moduleID)
	if err != nil {
		return errors.Wrap(err, "fetching enrollments")
	}

	module := svc.moduleInfo(ctx, moduleID)

	activityType = strings.ToUpper(core.CleanString(activityType))
	cw := core.NewSheetWriter(format, w, templateSheet, templateColumns...)
	var n int
	for _, e := range enrollments {
		if e.Status != core.EnrollmentApproved {
			continue
		}
		n++
		cw.Write(e.StudentID, e.StudentUsername, e.StudentEmail,
			strconv.FormatInt(moduleID, 10), module.Code, module.Name,
			activityType, "", "", date.String(), "", "", "", "")
	}
	if n == 0 {
		return core.NewValidationError(errNoApprovedEnrollment)
	}
	return cw.Flush()
}

// Import records every valid row of a sheet; invalid rows are reported, not fatal.
func (svc *Service) Import(ctx context.Context, r io.Reader, format core.SheetFormat, teacher core.Actor) (core.ImportResult, error) {
	sheet, err := core.ReadSheet(r, format, templateSheet, requiredColumns...)
	if err != nil {
		return core.ImportResult{}, err
	}

	res := core.ImportResult{Errors: []core.ImportError{}}
	for i, row := range sheet.Rows {
		na, err := parseRow(sheet, row)
		if err == nil {
			err = na.Validate(svc.validate)
		}
		if err == nil {
			_, err = svc.Create(ctx, na, teacher)
		}
		if err != nil {
			res.Fail(sheet.RowNumber(i), err, svc.translator)
			continue
		}
		res.Imported++
	}
	return res, nil
}

func parseRow(sheet *core.Sheet, row []string) (NewActivity, error) {
	fieldErr := func(field, msg string) error {
		return core.NewValidationError(nil, core.FieldError{Field: field, Error: msg})
	}

	na := NewActivity{
		StudentID:       sheet.Get(row, "student_id"),
		StudentUsername: sheet.Get(row, "student_username"),
		ActivityType:    sheet.Get(row, "activity_type"),
		Title:           sheet.Get(row, "title"),
		Description:     sheet.GetPtr(row, "description"),
		Notes:           sheet.GetPtr(row, "notes"),
	}

	var err error
	if na.ModuleID, err = strconv.ParseInt(sheet.Get(row, "module_id"), 10, 64); err != nil {
		return na, fieldErr("module_id", "must be an integer")
	}
	if na.ActivityDate, err = core.ParseDate(sheet.Get(row, "activity_date")); err != nil {
		return na, fieldErr("activity_date", err.Error())
	}
	if v := sheet.Get(row, "duration_minutes"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return na, fieldErr("duration_minutes", "must be an integer")
		}
		na.DurationMinutes = &d
	}
	if v := sheet.Get(row, "participation_score"); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return na, fieldErr("participation_score", "must be a number")
		}
		na.ParticipationScore = &s
	}
	if v := strings.ToLower(sheet.Get(row, "completed")); v != "" {
		switch v {
		case "true", "1", "yes", "oui":
			na.Completed = true
		case "false", "0", "no", "non":
		default:
			return na, fieldErr("completed", "must be a boolean")
		}
	}
	return na, nil
}
