package presence

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

var (
	exportColumns = []string{
		"id", "student_id", "student_username", "module_id", "module_code", "module_name",
		"session_date", "session_time", "status", "notes",
		"teacher_id", "teacher_username", "created_at", "updated_at",
	}
	templateColumns = []string{
		"student_id", "student_username", "student_email", "module_id", "module_code", "module_name",
		"session_date", "session_time", "status", "notes",
	}
	requiredColumns = []string{"student_id", "module_id", "session_date", "status"}

	errNoApprovedEnrollment = errors.New("no approved enrollment found for this module")
)

const (
	exportSheet   = "Presences"
	templateSheet = "Presences Template"
)

// Export writes the presences matching filter as a sheet of the given format.
func (svc *Service) Export(ctx context.Context, w io.Writer, filter QueryFilter, format core.SheetFormat) error {
	presences, err := svc.Query(ctx, filter, nil)
	if err != nil {
		return errors.Wrap(err, "querying presences")
	}

	cw := core.NewSheetWriter(format, w, exportSheet, exportColumns...)
	for _, p := range presences {
		cw.Write(
			p.ID, p.StudentID, p.StudentUsername, strconv.FormatInt(p.ModuleID, 10), p.ModuleCode, p.ModuleName,
			p.SessionDate.String(), core.StrOrEmpty(p.SessionTime), p.Status, core.StrOrEmpty(p.Notes),
			p.TeacherID, p.TeacherUsername, p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339),
		)
	}
	return cw.Flush()
}

// Template writes an import sheet with one row per approved enrollment of the module;
// status and notes are left for the teacher to fill in. Module code and name are left
// blank when the module service cannot tell them.
func (svc *Service) Template(ctx context.Context, w io.Writer, moduleID int64, date core.Date, sessionTime string, format core.SheetFormat) error {
	if svc.modules == nil {
		return errors.New("module directory not configured")
	}
	enrollments, err := svc.modules.Enrollments(ctx, moduleID)
	if err != nil {
		return errors.Wrap(err, "fetching enrollments")
	}
	module := svc.moduleInfo(ctx, moduleID)

	cw := core.NewSheetWriter(format, w, templateSheet, templateColumns...)
	var n int
	for _, e := range enrollments {
		if e.Status != core.EnrollmentApproved {
			continue
		}
		n++
		cw.Write(e.StudentID, e.StudentUsername, e.StudentEmail,
			strconv.FormatInt(moduleID, 10), module.Code, module.Name,
			date.String(), sessionTime, "", "")
	}
	if n == 0 {
		return core.NewValidationError(errNoApprovedEnrollment)
	}
	return cw.Flush()
}

// Import records every valid row of a sheet; invalid rows are reported, not fatal.
// Columns other than the imported ones, such as those of the template, are ignored.
func (svc *Service) Import(ctx context.Context, r io.Reader, format core.SheetFormat, teacher core.Actor) (core.ImportResult, error) {
	sheet, err := core.ReadSheet(r, format, templateSheet, requiredColumns...)
	if err != nil {
		return core.ImportResult{}, err
	}

	res := core.ImportResult{Errors: []core.ImportError{}}
	for i, row := range sheet.Rows {
		np, err := svc.parseRow(sheet, row)
		if err == nil {
			err = np.Validate(svc.validate)
		}
		if err == nil {
			_, err = svc.Create(ctx, np, teacher)
		}
		if err != nil {
			res.Fail(sheet.RowNumber(i), err, svc.translator)
			continue
		}
		res.Imported++
	}
	return res, nil
}

func (svc *Service) parseRow(sheet *core.Sheet, row []string) (NewPresence, error) {
	moduleID, err := strconv.ParseInt(sheet.Get(row, "module_id"), 10, 64)
	if err != nil {
		return NewPresence{}, core.NewValidationError(nil, core.FieldError{Field: "module_id", Error: "must be an integer"})
	}
	date, err := core.ParseDate(sheet.Get(row, "session_date"))
	if err != nil {
		return NewPresence{}, core.NewValidationError(nil, core.FieldError{Field: "session_date", Error: err.Error()})
	}
	return NewPresence{
		StudentID:       sheet.Get(row, "student_id"),
		StudentUsername: sheet.Get(row, "student_username"),
		ModuleID:        moduleID,
		SessionDate:     date,
		SessionTime:     sheet.GetPtr(row, "session_time"),
		Status:          sheet.Get(row, "status"),
		Notes:           sheet.GetPtr(row, "notes"),
	}, nil
}
