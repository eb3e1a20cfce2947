package rpc

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// Consumer adapts an AMQP 0-9-1 channel into a ports.RequestConsumer,
// acking each delivery only after handle returns so a worker crash mid-job
// leaves the request requeued for another worker.
type Consumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	prefetch int
	logger   *slog.Logger
	gate     AdmissionGate
}

// AdmissionGate reports whether a newly delivered request may be admitted.
// Satisfied by *usecase.DiskPressure; kept as a local interface so rpc does
// not import usecase.
type AdmissionGate interface {
	Allowed() bool
}

type ConsumerOption func(*Consumer)

func WithPrefetch(n int) ConsumerOption {
	return func(c *Consumer) { c.prefetch = n }
}

// WithAdmissionGate causes Consume to requeue (rather than process)
// deliveries that arrive while the gate refuses admission, e.g. during a
// disk-pressure backoff window.
func WithAdmissionGate(gate AdmissionGate) ConsumerOption {
	return func(c *Consumer) { c.gate = gate }
}

// NewConsumer declares the request queue bound to RequestRoutingKey and
// returns a Consumer ready to Consume.
func NewConsumer(conn *amqp.Connection, exchange, queue string, logger *slog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, domain.NewKindError(domain.ErrKindService, "rpc: open channel: %v", err)
	}

	c := &Consumer{conn: conn, channel: ch, queue: queue, prefetch: 1, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return nil, domain.NewKindError(domain.ErrKindService, "rpc: set qos: %v", err)
	}

	if _, err := c.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, domain.NewKindError(domain.ErrKindService, "rpc: declare queue %s: %v", queue, err)
	}
	if exchange != "" {
		if err := c.channel.QueueBind(queue, RequestRoutingKey, exchange, false, nil); err != nil {
			return nil, domain.NewKindError(domain.ErrKindService, "rpc: bind queue %s: %v", queue, err)
		}
	}
	return c, nil
}

// Consume runs until ctx is cancelled or the delivery channel closes,
// decoding each message and invoking handle. Decode failures nack the
// delivery without requeue, since a malformed request will never parse on
// retry.
func (c *Consumer) Consume(ctx context.Context, handle func(ctx context.Context, correlationID string, req domain.TranscodeRequest)) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return domain.NewKindError(domain.ErrKindService, "rpc: consume %s: %v", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return domain.NewKindError(domain.ErrKindService, "rpc: delivery channel closed")
			}
			if c.gate != nil && !c.gate.Allowed() {
				c.logger.Warn("rpc: admission refused, requeueing delivery")
				_ = d.Nack(false, true)
				continue
			}
			req, err := DecodeRequest(d.Body)
			if err != nil {
				c.logger.Error("rpc: malformed request", "err", err)
				_ = d.Nack(false, false)
				continue
			}
			handle(ctx, d.CorrelationId, req)
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}
