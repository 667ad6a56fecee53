package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// OrphanCanceler is the slice of the checkout use case the sweeper drives.
type OrphanCanceler interface {
	CancelStaleOrphans(ctx context.Context, olderThan time.Duration) (int, error)
}

// OrphanSweeper periodically cancels PENDING purchases whose checkout session was
// never created or never linked. It does not settle anything.
type OrphanSweeper struct {
	interval   time.Duration
	staleAfter time.Duration
	uc         OrphanCanceler
	log        *zerolog.Logger
}

func NewOrphanSweeper(uc OrphanCanceler, interval, staleAfter time.Duration, logger *zerolog.Logger) *OrphanSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	sweepLog := logger.With().Str("component", "OrphanSweeper").Logger()
	return &OrphanSweeper{
		interval:   interval,
		staleAfter: staleAfter,
		uc:         uc,
		log:        &sweepLog,
	}
}

func (w *OrphanSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting orphan sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping orphan sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *OrphanSweeper) tick(ctx context.Context) {
	// CancelStaleOrphans logs what it canceled
	if _, err := w.uc.CancelStaleOrphans(ctx, w.staleAfter); err != nil {
		w.log.Error().Err(err).Msg("orphan sweep failed")
	}
}
