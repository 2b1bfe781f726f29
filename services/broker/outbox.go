package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

var _ core.Publisher = (*Outbox)(nil)

const (
	DefaultOutboxSize = 1024
	flushTimeout      = 5 * time.Second
)

// ErrOutboxFull is returned by Outbox.Publish when no more events can be queued.
var ErrOutboxFull = errors.New("broker outbox is full")

// Outbox queues events in memory and hands them to the broker from a single background
// goroutine, so that publishing never waits on the broker connection.
type Outbox struct {
	pub    core.Publisher
	logger core.Logger
	queue  chan Message
}

func NewOutbox(pub core.Publisher, logger core.Logger, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{pub: pub, logger: logger, queue: make(chan Message, size)}
}

// Publish queues the event and returns at once. ErrOutboxFull means the event was dropped.
func (o *Outbox) Publish(_ context.Context, routingKey string, event core.Event) error {
	select {
	case o.queue <- Message{RoutingKey: routingKey, Event: event}:
		return nil
	default:
		return errors.Wrapf(ErrOutboxFull, "dropping %s", event.Type)
	}
}

// Run publishes queued events until ctx is done. Events the broker refuses are logged
// and dropped.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-o.queue:
			o.send(ctx, msg)
		}
	}
}

// Close publishes what is still queued, giving up after a short delay.
func (o *Outbox) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for {
		select {
		case msg := <-o.queue:
			if ctx.Err() != nil {
				return errors.Errorf("%d events not published", len(o.queue)+1)
			}
			o.send(ctx, msg)
		default:
			return nil
		}
	}
}

// Pending returns the number of queued events.
func (o *Outbox) Pending() int {
	return len(o.queue)
}

func (o *Outbox) send(ctx context.Context, msg Message) {
	if err := o.pub.Publish(ctx, msg.RoutingKey, msg.Event); err != nil {
		o.logger.Error(fmt.Sprintf("dropping %s event: %v", msg.Event.Type, err), err)
	}
}
