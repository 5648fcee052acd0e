package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// sweepJobTimeout bounds one scheduled sweep
const sweepJobTimeout = 5 * time.Minute

// CronService manages scheduled background jobs
type CronService struct {
	cron      *cron.Cron
	expirySvc *ProvisionalExpiryService
	schedule  string
	logger    *logrus.Logger
}

// NewCronService creates a new CronService. schedule uses the six-field
// format with seconds: "second minute hour day month weekday".
func NewCronService(expirySvc *ProvisionalExpiryService, schedule string, logger *logrus.Logger) *CronService {
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLogger),
		// a slow sweep must not overlap the next tick
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &CronService{
		cron:      c,
		expirySvc: expirySvc,
		schedule:  schedule,
		logger:    logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.provisionalExpiryJob); err != nil {
		return fmt.Errorf("failed to schedule provisional expiry job: %w", err)
	}
	s.logger.WithField("schedule", s.schedule).Info("Scheduled: provisional hold expiry sweep")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) provisionalExpiryJob() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepJobTimeout)
	defer cancel()

	if _, err := s.RunSweepNow(ctx); err != nil {
		s.logger.WithError(err).Error("[CRON] Provisional expiry sweep failed")
	}
}

// RunSweepNow runs the provisional expiry sweep immediately
func (s *CronService) RunSweepNow(ctx context.Context) (*SweepReport, error) {
	start := time.Now()

	report, err := s.expirySvc.RunOnce(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"examined":    report.Examined,
		"settled":     report.Settled,
		"cancelled":   report.Cancelled,
		"skipped":     report.Skipped,
		"failed":      report.Failed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("[CRON] Provisional expiry sweep finished")

	return report, nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
