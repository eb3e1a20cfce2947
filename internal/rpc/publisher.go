package rpc

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// Publisher emits progress and terminal replies onto a per-correlation-id
// reply queue, matching the reply-polling model described in spec.md §6
// and grounded on original_source's reply.c (reply messages are JSON
// envelopes keyed by correlation id, picked up later by a polling caller).
type Publisher struct {
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, domain.NewKindError(domain.ErrKindService, "rpc: open publish channel: %v", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

func (p *Publisher) publish(ctx context.Context, correlationID string, body []byte) error {
	err := p.channel.PublishWithContext(ctx, p.exchange, correlationID, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return domain.NewKindError(domain.ErrKindService, "rpc: publish %s: %v", correlationID, err)
	}
	return nil
}

func (p *Publisher) PublishProgress(ctx context.Context, correlationID string, fraction float64) error {
	body, err := encodeProgressReply(fraction)
	if err != nil {
		return domain.NewKindError(domain.ErrKindService, "rpc: encode progress reply: %v", err)
	}
	return p.publish(ctx, correlationID, body)
}

func (p *Publisher) PublishSuccess(ctx context.Context, correlationID string, req domain.TranscodeRequest, results []domain.VersionResult) error {
	body, err := encodeSuccessReply(req, results)
	if err != nil {
		return domain.NewKindError(domain.ErrKindService, "rpc: encode success reply: %v", err)
	}
	return p.publish(ctx, correlationID, body)
}

func (p *Publisher) PublishError(ctx context.Context, correlationID string, errInfo *domain.ErrorInfo) error {
	body, err := encodeErrorReply(errInfo, time.Now())
	if err != nil {
		return domain.NewKindError(domain.ErrKindService, "rpc: encode error reply: %v", err)
	}
	return p.publish(ctx, correlationID, body)
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}
