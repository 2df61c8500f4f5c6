package application

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper reclaims stock held by reservations nobody released. It runs on a
// fixed interval independent of request traffic and is safe to run from
// multiple instances: the store's batch claim hands each overdue reservation
// to exactly one sweeper.
type Sweeper struct {
	log      *slog.Logger
	engine   *Engine
	interval time.Duration
}

func NewSweeper(log *slog.Logger, engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{log: log, engine: engine, interval: interval}
}

// Run loops until ctx is canceled. A failed cycle is logged and retried on
// the next tick; unexpired reservations stay ACTIVE.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return nil
		case <-t.C:
			n, err := s.engine.CleanupExpired(ctx)
			if err != nil {
				s.log.Error("sweep cycle failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("sweep cycle reclaimed reservations", "expired", n)
			}
		}
	}
}
