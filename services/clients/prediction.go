package clients

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/explanation"
)

// PredictionClient reads predictions from the prediction service.
type PredictionClient struct {
	client
}

var _ explanation.PredictionSource = (*PredictionClient)(nil)

func NewPredictionClient(opts Options, logger core.Logger) *PredictionClient {
	return &PredictionClient{client: newClient(ServicePrediction, opts, logger)}
}

// Latest returns the newest prediction of the student in the module. The prediction
// service scores the student when no prediction exists yet.
func (c *PredictionClient) Latest(ctx context.Context, studentID string, moduleID int64) (explanation.Prediction, error) {
	var p explanation.Prediction
	path := fmt.Sprintf("/api/predictions/student/%s/module/%d", url.PathEscape(studentID), moduleID)
	if err := c.getJSON(ctx, path, "prediction", &p); err != nil {
		return explanation.Prediction{}, errors.Wrap(err, "fetching prediction")
	}
	return p, nil
}
