package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/store"
)

// Sweeper periodically reclaims content, tasks and receipts that fell out of
// the retention window. Safety lives in the store: nothing referenced by a
// scheduled or running task is ever deleted.
type Sweeper struct {
	cfg    *config.RetentionConfig
	store  *store.Store
	logger *zap.Logger
	ticker *time.Ticker
	stopCh chan struct{}
}

func New(cfg *config.RetentionConfig, st *store.Store, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cfg:    cfg,
		store:  st,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("Retention sweeper is disabled")
		return nil
	}

	interval := config.Duration(s.cfg.SweepInterval, 6*time.Hour)

	s.logger.Info("Starting retention sweeper",
		zap.Duration("sweep_interval", interval),
		zap.String("window", s.cfg.Window))

	s.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runSweep()
			case <-s.stopCh:
				s.logger.Info("Sweeper stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Sweeper context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Sweeper) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Sweeper shutdown completed")
}

// Sweep runs one cleanup pass with the given retention window. A zero window
// falls back to the configured default.
func (s *Sweeper) Sweep(retention time.Duration) (store.CleanupCounts, error) {
	if retention <= 0 {
		retention = config.Duration(s.cfg.Window, 30*24*time.Hour)
	}
	return s.store.Cleanup(retention)
}

func (s *Sweeper) runSweep() {
	start := time.Now()
	counts, err := s.Sweep(0)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Retention sweep failed",
			zap.Error(err),
			zap.Duration("duration", duration))
		return
	}

	s.logger.Info("Retention sweep completed",
		zap.Int64("contents", counts.Contents),
		zap.Int64("tasks", counts.Tasks),
		zap.Int64("receipts", counts.Receipts),
		zap.Duration("duration", duration))
}
