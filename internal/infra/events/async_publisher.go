// File: internal/infra/events/async_publisher.go
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"
	"gym-membership/internal/infra/worker"
)

var _ adapter.EventPublisher = (*AsyncPublisher)(nil)

const publishTimeout = 15 * time.Second

// AsyncPublisher hands events to a worker pool so request paths never wait on the broker.
type AsyncPublisher struct {
	inner  adapter.EventPublisher
	pool   *worker.Pool
	logger *zerolog.Logger
}

func NewAsyncPublisher(inner adapter.EventPublisher, pool *worker.Pool, logger *zerolog.Logger) *AsyncPublisher {
	return &AsyncPublisher{inner: inner, pool: pool, logger: logger}
}

// PublishPurchaseSettled queues the event. It fails only when the queue is saturated.
func (a *AsyncPublisher) PublishPurchaseSettled(ctx context.Context, evt model.PurchaseSettled) error {
	detached := context.WithoutCancel(ctx)
	err := a.pool.Submit(func(context.Context) error {
		cctx, cancel := context.WithTimeout(detached, publishTimeout)
		defer cancel()
		if err := a.inner.PublishPurchaseSettled(cctx, evt); err != nil {
			metrics.IncEventPublished("error")
			logging.With(cctx, a.logger).Error().Err(err).
				Str("event_id", evt.EventID).Str("purchase_id", evt.PurchaseID).
				Msg("publish purchase settled failed")
			return nil
		}
		metrics.IncEventPublished("ok")
		return nil
	})
	if err != nil {
		metrics.IncEventPublished("dropped")
		return err
	}
	return nil
}

// NoopPublisher discards events; used when no broker is configured.
type NoopPublisher struct {
	logger *zerolog.Logger
}

func NewNoopPublisher(logger *zerolog.Logger) *NoopPublisher { return &NoopPublisher{logger: logger} }

func (n *NoopPublisher) PublishPurchaseSettled(ctx context.Context, evt model.PurchaseSettled) error {
	n.logger.Debug().Str("event_id", evt.EventID).Str("purchase_id", evt.PurchaseID).Msg("purchase settled (not published)")
	return nil
}
