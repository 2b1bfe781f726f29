package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

var (
	_ core.Publisher = (*Memory)(nil)
	_ core.Consumer  = (*Memory)(nil)
)

// Message is a published event and its routing key.
type Message struct {
	RoutingKey string
	Event      core.Event
}

// Memory is an in-process exchange used by tests: published events are recorded and
// fanned out to consumers whose bindings match the routing key. Handler errors are
// reported to Logger when set.
type Memory struct {
	Logger core.Logger

	bindings []string

	mu        sync.Mutex
	Published []Message
	queue     chan Message
}

// NewMemory creates an exchange delivering to consumers bound with the given topic
// patterns. No bindings means every event is delivered.
func NewMemory(bindings ...string) *Memory {
	return &Memory{bindings: bindings, queue: make(chan Message, 256)}
}

func (m *Memory) Publish(_ context.Context, routingKey string, event core.Event) error {
	msg := Message{RoutingKey: routingKey, Event: event}
	m.mu.Lock()
	m.Published = append(m.Published, msg)
	m.mu.Unlock()

	if m.matches(routingKey) {
		select {
		case m.queue <- msg:
		default:
			return errors.Errorf("queue full, %s not delivered", event.Type)
		}
	}
	return nil
}

// Events returns the types of the published events, in order.
func (m *Memory) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, len(m.Published))
	for i, msg := range m.Published {
		types[i] = msg.Event.Type
	}
	return types
}

func (m *Memory) Consume(ctx context.Context, handler core.EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.queue:
			if err := handler(ctx, msg.Event); err != nil && m.Logger != nil {
				m.Logger.Error(fmt.Sprintf("handling message %q", msg.RoutingKey), err)
			}
		}
	}
}

func (m *Memory) matches(routingKey string) bool {
	if len(m.bindings) == 0 {
		return true
	}
	for _, b := range m.bindings {
		if TopicMatch(b, routingKey) {
			return true
		}
	}
	return false
}

// TopicMatch applies AMQP topic rules: `*` matches one word, `#` zero or more.
func TopicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	}
	return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
}
