// internal/app/system/workers/claimsweeper.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/familyspace/internal/app/recovery"
	"github.com/dalemusser/familyspace/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Sweeper expires claims past their deadline.
type Sweeper interface {
	SweepExpired(ctx context.Context) (recovery.SweepResult, error)
}

// ClaimSweeper is a background worker that periodically expires stale
// recovery claims.
type ClaimSweeper struct {
	sweeper  Sweeper
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClaimSweeper creates a new claim sweeper.
//
// Parameters:
//   - sweeper: the recovery service
//   - logger: zap logger for logging
//   - interval: how often to sweep (e.g., 15 minutes)
func NewClaimSweeper(sweeper Sweeper, logger *zap.Logger, interval time.Duration) *ClaimSweeper {
	return &ClaimSweeper{
		sweeper:  sweeper,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval.
func (w *ClaimSweeper) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("claim sweeper started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for an in-flight sweep to finish.
// It is safe to call more than once.
func (w *ClaimSweeper) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.log.Info("claim sweeper stopped")
	})
}

func (w *ClaimSweeper) run() {
	defer w.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ClaimSweeper) sweep(parent context.Context) {
	ctx, cancel := timeouts.WithTimeout(parent, timeouts.Sweep(), w.log, "claim sweep")
	defer cancel()

	res, err := w.sweeper.SweepExpired(ctx)
	if err != nil {
		if parent.Err() != nil {
			return
		}
		w.log.Error("claim sweep failed", zap.Error(err))
		return
	}
	if res.Expired > 0 {
		w.log.Info("expired stale claims",
			zap.Int("expired", res.Expired),
			zap.Int("raced", res.Raced))
	}
}
