package core

import "context"

// EnrollmentApproved is the module-service status of an accepted enrollment.
const EnrollmentApproved = "APPROVED"

type (
	// ModuleInfo is the module-service view of a module.
	ModuleInfo struct {
		ID   int64  `json:"id"`
		Code string `json:"code"`
		Name string `json:"name"`
	}

	Enrollment struct {
		StudentID       string `json:"student_id"`
		StudentUsername string `json:"student_username"`
		StudentEmail    string `json:"student_email"`
		Status          string `json:"status"`
	}

	// ModuleDirectory resolves module details owned by the module service.
	ModuleDirectory interface {
		GetModule(ctx context.Context, id int64) (ModuleInfo, error)
		Enrollments(ctx context.Context, moduleID int64) ([]Enrollment, error)
	}
)
