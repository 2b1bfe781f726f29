package clients

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

// ModuleClient reads modules and enrollments from the module service.
type ModuleClient struct {
	client
}

var _ core.ModuleDirectory = (*ModuleClient)(nil)

func NewModuleClient(opts Options, logger core.Logger) *ModuleClient {
	return &ModuleClient{client: newClient(ServiceModule, opts, logger)}
}

type (
	moduleResponse struct {
		ID   int64  `json:"id"`
		Code string `json:"code"`
		Name string `json:"name"`
	}

	enrollmentResponse struct {
		StudentID       string `json:"studentId"`
		StudentUsername string `json:"studentUsername"`
		StudentEmail    string `json:"studentEmail"`
		Status          string `json:"status"`
	}
)

func (c *ModuleClient) GetModule(ctx context.Context, id int64) (core.ModuleInfo, error) {
	var res moduleResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/modules/admin/modules/%d", id), "module", &res); err != nil {
		return core.ModuleInfo{}, errors.Wrapf(err, "fetching module %d", id)
	}
	if res.ID == 0 {
		res.ID = id
	}
	return core.ModuleInfo{ID: res.ID, Code: res.Code, Name: res.Name}, nil
}

func (c *ModuleClient) Enrollments(ctx context.Context, moduleID int64) ([]core.Enrollment, error) {
	var res []enrollmentResponse
	path := fmt.Sprintf("/api/modules/admin/modules/%d/enrollments", moduleID)
	if err := c.getJSON(ctx, path, "module", &res); err != nil {
		return nil, errors.Wrapf(err, "fetching enrollments of module %d", moduleID)
	}

	enrollments := make([]core.Enrollment, 0, len(res))
	for _, e := range res {
		enrollments = append(enrollments, core.Enrollment{
			StudentID:       e.StudentID,
			StudentUsername: e.StudentUsername,
			StudentEmail:    e.StudentEmail,
			Status:          e.Status,
		})
	}
	return enrollments, nil
}
