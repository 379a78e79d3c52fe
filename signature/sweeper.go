package signature

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"signflow/obs"
)

// Sweeper is the periodic reconciliation pass that expires requests the
// provider never completed. It reuses the same guarded-update pattern as the
// event handlers, so it cannot race destructively with an in-flight
// completion and running twice has no additional effect.
type Sweeper struct {
	pool     TxBeginner
	repo     Repository
	log      *logrus.Logger
	metrics  *obs.Metrics
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(pool TxBeginner, repo Repository, log *logrus.Logger, metrics *obs.Metrics, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		pool:     pool,
		repo:     repo,
		log:      log,
		metrics:  metrics,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.SweepOnce(ctx)
	if err != nil {
		s.log.WithError(err).Error("expiration sweep failed")
		return
	}
	if len(expired) > 0 {
		s.log.WithField("expired", len(expired)).Info("expiration sweep terminated stale requests")
	}
}

// SweepOnce expires every overdue live request and reverts its contract.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]ExpiredRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("signature: begin sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	expired, err := s.repo.SweepExpired(ctx, tx, s.now())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("signature: commit sweep: %w", err)
	}

	if s.metrics != nil && len(expired) > 0 {
		s.metrics.RequestsExpired.Add(float64(len(expired)))
	}
	return expired, nil
}
