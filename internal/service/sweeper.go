package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"registry-service/internal/core"
	"registry-service/internal/platform/metrics"
)

// Sweeper periodically tombstones superseded versions older than the
// retention window. Current versions are never touched.
type Sweeper struct {
	store     core.CacheStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewSweeper(store core.CacheStore, retention, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		log:       log,
		metrics:   m,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	if w.retention <= 0 || w.interval <= 0 {
		w.log.Info("tombstone sweeper disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("tombstone sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce tombstones superseded versions fetched before now minus retention.
func (w *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)
	n, err := w.store.TombstoneSuperseded(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	w.metrics.AddTombstoned(n)
	if n > 0 {
		w.log.Info("tombstoned superseded versions", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
