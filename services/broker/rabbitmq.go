// Package broker carries events between services over a RabbitMQ topic exchange.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/abmarghoub/EduPathInsight/core"
)

var (
	_ core.Publisher = (*RabbitMQ)(nil)
	_ core.Consumer  = (*RabbitMQ)(nil)
)

const connectTimeout = 30 * time.Second

type RabbitMQ struct {
	conf   core.BrokerConfig
	logger core.Logger
	dial   func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQ(conf core.BrokerConfig, logger core.Logger) *RabbitMQ {
	return &RabbitMQ{conf: conf, logger: logger, dial: amqp.Dial}
}

// channel returns the publishing channel, (re)connecting when needed.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn, r.ch = nil, nil
	}
	conn, ch, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	r.conn, r.ch = conn, ch
	return ch, nil
}

func (r *RabbitMQ) connect(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	var (
		conn *amqp.Connection
		ch   *amqp.Channel
	)
	op := func() error {
		var err error
		if conn, err = r.dial(r.conf.URL); err != nil {
			return errors.Wrap(err, "dialing broker")
		}
		if ch, err = conn.Channel(); err != nil {
			_ = conn.Close()
			return errors.Wrap(err, "opening channel")
		}
		err = ch.ExchangeDeclare(
			r.conf.Exchange, // name
			"topic",         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			_ = conn.Close()
			return backoff.Permanent(errors.Wrap(err, "declaring exchange"))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectTimeout
	notify := func(err error, wait time.Duration) {
		r.logger.Warn(fmt.Sprintf("broker unavailable, retrying in %s", wait), err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, nil, err
	}
	return conn, ch, nil
}

// Publish sends a persistent JSON message on the exchange.
func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, event core.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx,
		r.conf.Exchange, // exchange
		routingKey,      // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.Timestamp,
			Type:         event.Type,
			Body:         body,
		})
	if err != nil {
		return errors.Wrapf(err, "publishing %s", event.Type)
	}
	r.logger.Debug(fmt.Sprintf("published %s on %s", event.Type, routingKey))
	return nil
}

// Consume declares the configured queue, binds it and hands every delivery to handler
// until ctx is done. Undecodable or rejected messages are dropped.
func (r *RabbitMQ) Consume(ctx context.Context, handler core.EventHandler) error {
	conn, ch, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	q, err := ch.QueueDeclare(
		r.conf.Queue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return errors.Wrap(err, "declaring queue")
	}
	for _, key := range r.conf.Bindings {
		if err = ch.QueueBind(q.Name, key, r.conf.Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "binding queue to %s", key)
		}
	}

	deliveries, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return errors.Wrap(err, "consuming queue")
	}
	r.logger.Info(fmt.Sprintf("consuming %s bound to %v", q.Name, r.conf.Bindings))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			r.handle(ctx, d, handler)
		}
	}
}

func (r *RabbitMQ) handle(ctx context.Context, d amqp.Delivery, handler core.EventHandler) {
	evt, err := decode(d.Body)
	if err == nil {
		err = handler(ctx, evt)
	}
	if err != nil {
		r.logger.Error(fmt.Sprintf("handling message %q", d.RoutingKey), err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func decode(body []byte) (core.Event, error) {
	var evt core.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return core.Event{}, errors.Wrap(err, "decoding event")
	}
	if evt.Type == "" {
		return core.Event{}, errors.New("event has no type")
	}
	return evt, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn, r.ch = nil, nil
	return err
}
