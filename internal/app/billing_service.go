package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"membership_billing/internal/domain/membership"
	"membership_billing/internal/infra/logger"
)

// RunSummary counts what one batch run did.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	At            time.Time     `json:"at"`
	Duration      time.Duration `json:"duration"`
	Memberships   int           `json:"memberships"`
	CyclesCreated int           `json:"cycles_created"`
	BillsSent     int           `json:"bills_sent"`
	RemindersSent int           `json:"reminders_sent"`
	Failed        int           `json:"failed"` // domain failures: no fee, no approval entry, expired cycle
	Errors        int           `json:"errors"` // unexpected errors and panics
}

// RunObserver is told about every finished run.
type RunObserver interface {
	ObserveRun(s RunSummary)
}

// BillingService is the batch orchestrator. RunOnce visits every approved
// membership and isolates failures per membership.
type BillingService struct {
	memberRepo membership.Repository
	cycles     *CycleManager
	reminders  *ReminderEngine
	cfg        BillingConfig
	log        *logrus.Entry
	tracer     trace.Tracer
	observers  []RunObserver

	mu sync.Mutex // one run at a time per process
}

func NewBillingService(mr membership.Repository, cycles *CycleManager, reminders *ReminderEngine, cfg BillingConfig, log *logrus.Entry, observers ...RunObserver) *BillingService {
	return &BillingService{
		memberRepo: mr,
		cycles:     cycles,
		reminders:  reminders,
		cfg:        cfg,
		log:        log.WithField("component", "billing_service"),
		tracer:     otel.Tracer("membership_billing/billing"),
		observers:  observers,
	}
}

// RunOnce runs the batch as of now. It returns an error only when the run
// cannot start, e.g. the membership list cannot be read. Per-membership
// problems are logged and counted in the summary.
func (s *BillingService) RunOnce(ctx context.Context, now time.Time) (RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := RunSummary{RunID: uuid.NewString(), At: now}
	log := s.log.WithField("run_id", summary.RunID)
	started := time.Now()

	ctx, span := s.tracer.Start(ctx, "billing.run_once",
		trace.WithAttributes(
			attribute.String("run.id", summary.RunID),
			attribute.String("run.at", now.Format(time.RFC3339)),
			attribute.Bool("reminders.enabled", s.cfg.EnableReminders),
		),
	)
	defer span.End()

	members, err := s.memberRepo.ListByStatus(ctx, membership.StatusApproved)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list memberships")
		return summary, fmt.Errorf("failed to list approved memberships: %w", err)
	}
	log.Infof("Billing run started for %d approved memberships", len(members))

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warn("Billing run interrupted")
			break
		}
		summary.Memberships++
		s.processMembership(ctx, log.WithField("membership_id", m.ID), m, now, &summary)
	}

	summary.Duration = time.Since(started)
	span.SetAttributes(
		attribute.Int("run.memberships", summary.Memberships),
		attribute.Int("run.cycles_created", summary.CyclesCreated),
		attribute.Int("run.bills_sent", summary.BillsSent),
		attribute.Int("run.reminders_sent", summary.RemindersSent),
		attribute.Int("run.errors", summary.Errors),
	)
	log.WithFields(logrus.Fields{
		"memberships":    summary.Memberships,
		"cycles_created": summary.CyclesCreated,
		"bills_sent":     summary.BillsSent,
		"reminders_sent": summary.RemindersSent,
		"failed":         summary.Failed,
		"errors":         summary.Errors,
		"duration":       summary.Duration.String(),
	}).Info("Billing run finished")

	for _, o := range s.observers {
		o.ObserveRun(summary)
	}
	return summary, ctx.Err()
}

func (s *BillingService) processMembership(ctx context.Context, log *logrus.Entry, m *membership.Membership, now time.Time, summary *RunSummary) {
	defer func() {
		if r := recover(); r != nil {
			summary.Errors++
			logger.Critical(log).Errorf("Panic while billing %s: %v", m, r)
		}
	}()

	res, err := s.cycles.EnsureCycle(ctx, m, now)
	if res.Kind == OutcomeCreated {
		summary.CyclesCreated++
		if res.Bill != nil {
			summary.BillsSent++
		}
	}
	if res.Kind == OutcomeFailed {
		summary.Failed++
	}
	if err != nil {
		summary.Errors++
		logger.Critical(log.WithError(err)).Errorf("Billing cycle step failed for %s", m)
		return
	}
	log.Debugf("Cycle step: %s", res.Outcome)

	if !s.cfg.EnableReminders {
		return
	}
	rem, err := s.reminders.MaybeRemind(ctx, m, now)
	if err != nil {
		summary.Errors++
		logger.Critical(log.WithError(err)).Errorf("Reminder step failed for %s", m)
		return
	}
	if rem.Kind == OutcomeCreated {
		summary.RemindersSent++
	}
	log.Debugf("Reminder step: %s", rem.Outcome)
}
