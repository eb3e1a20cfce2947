package ports

import (
	"context"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// ReplyPublisher emits progress and terminal replies for one request's
// correlation id. Progress replies may be emitted any number of times;
// exactly one terminal reply (success or error) must follow.
type ReplyPublisher interface {
	PublishProgress(ctx context.Context, correlationID string, fraction float64) error
	PublishSuccess(ctx context.Context, correlationID string, req domain.TranscodeRequest, results []domain.VersionResult) error
	PublishError(ctx context.Context, correlationID string, errInfo *domain.ErrorInfo) error
}

// RequestConsumer delivers decoded transcode requests with their
// correlation id as they arrive off the broker queue.
type RequestConsumer interface {
	Consume(ctx context.Context, handle func(ctx context.Context, correlationID string, req domain.TranscodeRequest)) error
	Close() error
}
