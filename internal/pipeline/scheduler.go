// internal/pipeline/scheduler.go
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// Scheduler drives continuous mode: while the controller's continuous flag is
// set it captures from src every interval, and once right away when the flag
// turns on. Ticks that land on an in-flight attempt are dropped by the
// controller's guard. A failure clears the flag, which parks the loop.
type Scheduler struct {
	ctrl     *Controller
	src      schemas.FrameSource
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler. A non-positive interval falls back to 5s.
func NewScheduler(ctrl *Controller, src schemas.FrameSource, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{ctrl: ctrl, src: src, interval: interval, logger: logger.Named("scheduler")}
}

// Run blocks until ctx is done or the controller is closed.
func (s *Scheduler) Run(ctx context.Context) error {
	updates, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	wasOn := s.ctrl.Snapshot().ContinuousMode
	s.logger.Info("Continuous capture scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Continuous capture scheduler stopped")
			return nil
		case state, ok := <-updates:
			if !ok {
				return nil
			}
			if state.ContinuousMode && !wasOn {
				s.trigger(ctx)
				ticker.Reset(s.interval)
			}
			wasOn = state.ContinuousMode
		case <-ticker.C:
			if s.ctrl.Snapshot().ContinuousMode {
				s.trigger(ctx)
			}
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.ctrl.CaptureFrom(ctx, s.src) {
		s.logger.Debug("Scheduled capture skipped; analysis in flight")
	}
}
