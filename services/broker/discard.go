package broker

import (
	"context"
	"fmt"

	"github.com/abmarghoub/EduPathInsight/core"
)

var (
	_ core.Publisher = (*Discard)(nil)
	_ core.Consumer  = (*Discard)(nil)
)

// Discard stands in for the broker when it is disabled: published events are logged
// and forgotten, and nothing is ever consumed.
type Discard struct {
	logger core.Logger
}

func NewDiscard(logger core.Logger) *Discard {
	return &Discard{logger: logger}
}

func (d *Discard) Publish(_ context.Context, routingKey string, event core.Event) error {
	d.logger.Debug(fmt.Sprintf("broker disabled, discarding %s on %s", event.Type, routingKey))
	return nil
}

func (d *Discard) Consume(ctx context.Context, _ core.EventHandler) error {
	<-ctx.Done()
	return nil
}
