package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"membership_billing/internal/app"
)

// BatchRunner runs one billing batch.
type BatchRunner interface {
	RunOnce(ctx context.Context, now time.Time) (app.RunSummary, error)
}

type BillingScheduler struct {
	cronEngine *cron.Cron
	runner     BatchRunner
	logger     *logrus.Entry
	cronSpec   string
	runTimeout time.Duration
	now        func() time.Time
}

func NewBillingScheduler(
	runner BatchRunner,
	logger *logrus.Entry,
	cronSpec string, // e.g., "0 6 * * *" (06:00 daily)
	runTimeout time.Duration,
) *BillingScheduler {
	cronLogger := cron.PrintfLogger(logger.WithField("component", "cron"))
	return &BillingScheduler{
		// Overlapping triggers are dropped.
		cronEngine: cron.New(
			cron.WithLocation(time.Local), // Use server's local time for cron
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runner:     runner,
		logger:     logger.WithField("component", "scheduler"),
		cronSpec:   cronSpec,
		runTimeout: runTimeout,
		now:        time.Now,
	}
}

// Start registers the billing job and starts the cron engine.
func (s *BillingScheduler) Start() error {
	s.logger.Info("Starting billing scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Info("Cron job triggered for billing run.")
		s.executeRun()
	})
	if err != nil {
		return fmt.Errorf("could not add billing cron job %q: %w", s.cronSpec, err)
	}

	s.cronEngine.Start()
	s.logger.WithField("spec", s.cronSpec).Info("Billing scheduler started.")
	return nil
}

func (s *BillingScheduler) executeRun() {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	summary, err := s.runner.RunOnce(ctx, s.now())
	if err != nil {
		s.logger.WithError(err).WithField("run_id", summary.RunID).Error("Billing run failed")
		return
	}
	s.logger.WithField("run_id", summary.RunID).Info("Billing run completed successfully.")
}

// Stop waits for a running batch to finish.
func (s *BillingScheduler) Stop() {
	s.logger.Info("Stopping billing scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Billing scheduler gracefully stopped.")
}
