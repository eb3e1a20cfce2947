package rpc

import (
	"context"
	"time"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/metrics"
)

// MaxNumTimerEvents bounds how many single-shot poll iterations
// ReplyPoller.Poll runs before giving up, per spec.md §5/§8.
const MaxNumTimerEvents = 300

// FetchFunc fetches the reply currently queued for correlationID, if any.
// ok is false when no reply has arrived yet.
type FetchFunc func(ctx context.Context, correlationID string) (body []byte, ok bool, err error)

// ReplyPoller re-polls a reply queue on a fixed interval, bounded by
// MaxNumTimerEvents, mirroring original_source's reply.c timer-driven
// `apprpc_recv_reply_restart` loop.
type ReplyPoller struct {
	Fetch    FetchFunc
	Interval time.Duration
	MaxPolls int
}

func NewReplyPoller(fetch FetchFunc, interval time.Duration) *ReplyPoller {
	return &ReplyPoller{Fetch: fetch, Interval: interval, MaxPolls: MaxNumTimerEvents}
}

// Poll blocks until a reply for correlationID arrives, ctx is cancelled, or
// MaxPolls single-shot timer events elapse without one, in which case it
// returns a 503 service-kind error with the message spec.md §8 names.
func (p *ReplyPoller) Poll(ctx context.Context, correlationID string) ([]byte, error) {
	maxPolls := p.MaxPolls
	if maxPolls <= 0 {
		maxPolls = MaxNumTimerEvents
	}

	for attempt := 0; attempt < maxPolls; attempt++ {
		body, ok, err := p.Fetch(ctx, correlationID)
		if err != nil {
			return nil, domain.NewKindError(domain.ErrKindService, "rpc: poll reply for %s: %v", correlationID, err)
		}
		if ok {
			return body, nil
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	metrics.RPCReplyPollTimeoutsTotal.Inc()
	return nil, domain.NewKindError(domain.ErrKindService, "timeout, not receive RPC reply")
}
