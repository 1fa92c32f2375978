package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper is the slice of the approval engine the sweeper drives.
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

// ExpirySweeper periodically promotes overdue pending approval requests to
// expired. It is the only time-driven component; human resolution and the
// sweep race safely because both go through the store's guarded transition.
type ExpirySweeper struct {
	engine Sweeper
	logger *zap.Logger

	sweepInterval time.Duration
	sweepTimeout  time.Duration

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(engine Sweeper, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		engine:        engine,
		logger:        logger,
		sweepInterval: interval,
		sweepTimeout:  30 * time.Second,
	}
}

// Start starts the background sweep loop
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("expiry sweeper is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.logger.Info("ExpirySweeper started",
		zap.Duration("sweep_interval", s.sweepInterval))

	go s.sweepLoop()

	return nil
}

// Stop stops the background sweep loop
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
	}

	s.logger.Info("ExpirySweeper stopped")
}

// Name returns the worker name for identification
func (s *ExpirySweeper) Name() string {
	return "ExpirySweeper"
}

func (s *ExpirySweeper) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	// Sweep immediately on start
	s.sweep()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Sweep loop context cancelled")
			return

		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one pass. Per-record failures are handled inside the engine;
// a failed pass is retried on the next tick rather than here.
func (s *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, s.sweepTimeout)
	defer cancel()

	expired, err := s.engine.SweepAll(ctx)
	if err != nil {
		s.logger.Error("Expiry sweep failed", zap.Error(err))
		return
	}

	if expired > 0 {
		s.logger.Info("Expiry sweep completed", zap.Int("expired", expired))
	}
}
