package clients

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/ml/features"
)

// ActivitiesClient reads the recorded statistics of a student from the activities service.
type ActivitiesClient struct {
	client
}

func NewActivitiesClient(opts Options, logger core.Logger) *ActivitiesClient {
	return &ActivitiesClient{client: newClient(ServiceActivities, opts, logger)}
}

func (c *ActivitiesClient) Statistics(ctx context.Context, studentID string, moduleID int64) (features.Statistics, error) {
	var stats features.Statistics
	path := fmt.Sprintf("/api/activities/admin/statistics/student/%s/module/%d", url.PathEscape(studentID), moduleID)
	if err := c.getJSON(ctx, path, "statistics", &stats); err != nil {
		return features.Statistics{}, errors.Wrap(err, "fetching statistics")
	}
	stats.StudentID, stats.ModuleID = studentID, moduleID
	return stats, nil
}
