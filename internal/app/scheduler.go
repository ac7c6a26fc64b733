/**
 * @description
 * Cron scheduler for deferred raffle draws. Each run finds raffle events whose
 * entry window has closed and that still have winner capacity, and draws them.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Cron expression scheduling.
 */
package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const dueDrawBatchSize = 50

// DrawScheduler runs random draws for closed raffle events on a schedule.
type DrawScheduler struct {
	cron     *cron.Cron
	service  *Service
	schedule string
	logger   *zap.Logger
}

func NewDrawScheduler(service *Service, schedule string, logger *zap.Logger) *DrawScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "draw_scheduler"))
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &DrawScheduler{
		cron:     c,
		service:  service,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the draw job and starts the cron scheduler.
func (s *DrawScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule draw job %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled draw job", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once a running job
// finishes.
func (s *DrawScheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *DrawScheduler) run() {
	if _, err := s.RunDueDraws(context.Background()); err != nil {
		s.logger.Error("scheduled draw run failed", zap.Error(err))
	}
}

// RunDueDraws draws every due raffle event once and returns how many draws
// succeeded. A failed draw does not stop the others.
func (s *DrawScheduler) RunDueDraws(ctx context.Context) (int, error) {
	events, err := s.service.repo.ListRaffleEventsDueForDraw(ctx, s.service.now(), dueDrawBatchSize)
	if err != nil {
		s.service.metrics.ScheduledDrawRun("error")
		return 0, fmt.Errorf("list due raffle events: %w", err)
	}

	var drawn int
	for _, event := range events {
		winners, err := s.service.DrawRandom(ctx, event.ID)
		if err != nil {
			s.logger.Error("scheduled draw failed", zap.Int64("event_id", event.ID), zap.Error(err))
			s.service.metrics.ScheduledDrawRun("failed")
			continue
		}
		s.logger.Info("scheduled draw completed", zap.Int64("event_id", event.ID), zap.Int64("winners", winners))
		s.service.metrics.ScheduledDrawRun("succeeded")
		drawn++
	}
	return drawn, nil
}
