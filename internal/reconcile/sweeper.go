package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sweeper runs ProcessFailedOperations on a fixed interval.
type Sweeper struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval falls back to one
// minute.
func NewSweeper(r *Reconciler, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{reconciler: r, interval: interval, logger: logger}
}

// Run sweeps once immediately, so failures recorded before a restart are
// retried right away, then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Reconciliation sweeper started", "interval", s.interval)
	defer s.logger.Info("Reconciliation sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	res, err := s.reconciler.ProcessFailedOperations(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("Reconciliation sweep failed", "error", err)
		return
	}
	if res.Remaining > 0 {
		s.logger.Warn("Reconciliation records outstanding", "remaining", res.Remaining)
	}
}
