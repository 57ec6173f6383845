package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
	"membership_billing/internal/infra/logger"
)

// approvalClock reports when a membership was approved.
type approvalClock interface {
	ApprovedTime(ctx context.Context, m *membership.Membership) (time.Time, error)
}

// CycleManager keeps every approved membership covered by a billing cycle.
type CycleManager struct {
	repo      billing.Repository
	fees      *FeeResolver
	emitter   *BillEmitter
	approvals approvalClock
	cfg       BillingConfig
	log       *logrus.Entry
}

func NewCycleManager(repo billing.Repository, fees *FeeResolver, emitter *BillEmitter, approvals approvalClock, cfg BillingConfig, log *logrus.Entry) *CycleManager {
	return &CycleManager{
		repo:      repo,
		fees:      fees,
		emitter:   emitter,
		approvals: approvals,
		cfg:       cfg,
		log:       log.WithField("component", "cycle_manager"),
	}
}

// EnsureCycle creates the next cycle for m when it has none or its latest
// cycle ends within the renewal window, and bills the new cycle. Bills are
// emitted only for cycles created by this call.
//
// Domain failures (no fee, no approval entry, expired cycle) come back as a
// Failed outcome and are logged critical here. The returned error is for
// store failures and other unexpected conditions.
func (cm *CycleManager) EnsureCycle(ctx context.Context, m *membership.Membership, now time.Time) (CycleResult, error) {
	log := cm.log.WithField("membership_id", m.ID)

	if m.Status != membership.StatusApproved {
		return CycleResult{Outcome: skipped("membership is " + m.Status.String())}, nil
	}

	var start time.Time
	latest, err := cm.repo.LatestCycle(ctx, m.ID)
	switch {
	case errors.Is(err, billing.ErrCycleNotFound):
		approvedAt, err := cm.approvals.ApprovedTime(ctx, m)
		if err != nil {
			if errors.Is(err, billing.ErrNoApprovedLogEntry) {
				return CycleResult{Outcome: failed(err)}, nil
			}
			return CycleResult{}, err
		}
		start = now
		if approvedAt.After(now) {
			start = approvedAt
		}

	case err != nil:
		return CycleResult{}, fmt.Errorf("failed to get latest cycle of %s: %w", m, err)

	default:
		if !latest.End.After(now) {
			logger.Critical(log.WithField("cycle_id", latest.ID)).
				Errorf("no new billing cycle created for %s after an expired one", m)
			return CycleResult{Outcome: failed(billing.ErrCycleExpired), Cycle: latest}, nil
		}
		if !latest.EndsWithin(now, cm.cfg.renewalWindow()) {
			cm.warnIfUnbilled(ctx, log, latest)
			return CycleResult{
				Outcome: existing("current cycle runs until " + latest.End.Format(time.DateOnly)),
				Cycle:   latest,
			}, nil
		}
		start = latest.End
	}

	sum, err := cm.fees.FeeFor(ctx, m.Type, start)
	if err != nil {
		if errors.Is(err, billing.ErrNoFeeDefined) {
			logger.Critical(log.WithError(err)).Errorf("no new billing cycle created for %s", m)
			return CycleResult{Outcome: failed(err)}, nil
		}
		return CycleResult{}, err
	}

	cycle := &billing.Cycle{
		MembershipID:    m.ID,
		Start:           start,
		End:             cm.cfg.cycleEnd(start),
		Sum:             sum,
		ReferenceNumber: billing.GenerateReferenceNumber(m.ID, start.Year()),
	}
	if err := cm.repo.CreateCycle(ctx, cycle); err != nil {
		if errors.Is(err, billing.ErrDuplicateCycle) {
			log.Info("Billing cycle was created by a concurrent run")
			return CycleResult{Outcome: existing("created by a concurrent run")}, nil
		}
		return CycleResult{}, fmt.Errorf("failed to create billing cycle for %s: %w", m, err)
	}
	log.WithFields(logrus.Fields{
		"cycle_id":         cycle.ID,
		"start":            cycle.Start.Format(time.DateOnly),
		"end":              cycle.End.Format(time.DateOnly),
		"sum":              cycle.Sum.StringFixed(2),
		"reference_number": cycle.ReferenceNumber,
	}).Info("Billing cycle created")

	result := CycleResult{Outcome: created("new billing cycle"), Cycle: cycle}
	bill, err := cm.emitter.Emit(ctx, m, cycle, now)
	if err != nil {
		if errors.Is(err, billing.ErrAlreadyBilled) {
			return result, nil
		}
		return result, fmt.Errorf("cycle %d created but not billed: %w", cycle.ID, err)
	}
	result.Bill = bill
	return result, nil
}

// warnIfUnbilled flags a live cycle that never got its original bill. Such
// cycles are not billed automatically.
func (cm *CycleManager) warnIfUnbilled(ctx context.Context, log *logrus.Entry, c *billing.Cycle) {
	has, err := cm.repo.HasOriginalBill(ctx, c.ID)
	if err != nil {
		log.WithError(err).Warn("Could not check whether the current cycle is billed")
		return
	}
	if !has {
		log.WithField("cycle_id", c.ID).Warn("Current billing cycle has no original bill")
	}
}
