package pushsvc

import (
	"context"
	"fmt"

	"github.com/abmarghoub/EduPathInsight/core"
)

// ConsoleService logs push notifications instead of sending them to devices.
type ConsoleService struct {
	logger core.Logger
}

func NewConsoleService(logger core.Logger) *ConsoleService {
	return &ConsoleService{logger: logger}
}

func (svc *ConsoleService) Push(_ context.Context, recipientID, title, message string, data map[string]interface{}) error {
	svc.logger.Info(fmt.Sprintf("push to %s: %s: %s %v", recipientID, title, message, data))
	return nil
}
