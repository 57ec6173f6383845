package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
	"membership_billing/internal/infra/logger"
)

// ReminderEngine sends payment reminders for overdue cycles.
type ReminderEngine struct {
	repo    billing.Repository
	emitter *BillEmitter
	cfg     BillingConfig
	log     *logrus.Entry
}

func NewReminderEngine(repo billing.Repository, emitter *BillEmitter, cfg BillingConfig, log *logrus.Entry) *ReminderEngine {
	return &ReminderEngine{
		repo:    repo,
		emitter: emitter,
		cfg:     cfg,
		log:     log.WithField("component", "reminder_engine"),
	}
}

// CanSendReminder reports whether a reminder for a bill due at reference may
// go out at now. The grace period must have passed since reference, and the
// payment ledger must contain a payment dated at or after the end of the
// grace period; otherwise the ledger is too old to prove non-payment.
// An empty ledger is logged critical and denies.
func (re *ReminderEngine) CanSendReminder(ctx context.Context, reference, now time.Time) (bool, error) {
	latest, err := re.repo.LatestPayment(ctx)
	if err != nil {
		if errors.Is(err, billing.ErrPaymentNotFound) {
			logger.Critical(re.log).Error("No payments found in the ledger, reminders cannot be sent. Has the bank statement been imported?")
			return false, nil
		}
		return false, fmt.Errorf("failed to get latest payment: %w", err)
	}

	deadline := reference.Add(re.cfg.grace())
	if deadline.After(now) {
		return false, nil
	}
	if latest.PaymentDate.Before(deadline) {
		re.log.WithFields(logrus.Fields{
			"latest_payment": latest.PaymentDate.Format(time.DateOnly),
			"deadline":       deadline.Format(time.DateOnly),
		}).Debug("Payment ledger is older than the reminder deadline")
		return false, nil
	}
	return true, nil
}

// MaybeRemind sends a reminder for m's latest cycle when its last bill is
// overdue, the cycle is unpaid and CanSendReminder allows it.
func (re *ReminderEngine) MaybeRemind(ctx context.Context, m *membership.Membership, now time.Time) (ReminderResult, error) {
	if m.Status != membership.StatusApproved {
		return ReminderResult{Outcome: skipped("membership is " + m.Status.String())}, nil
	}

	cycle, err := re.repo.LatestCycle(ctx, m.ID)
	if err != nil {
		if errors.Is(err, billing.ErrCycleNotFound) {
			return ReminderResult{Outcome: skipped("no billing cycle")}, nil
		}
		return ReminderResult{}, fmt.Errorf("failed to get latest cycle of %s: %w", m, err)
	}
	if cycle.IsPaid {
		return ReminderResult{Outcome: skipped("cycle is paid")}, nil
	}

	last, err := re.repo.LastBill(ctx, cycle.ID)
	if err != nil {
		if errors.Is(err, billing.ErrBillNotFound) {
			return ReminderResult{Outcome: skipped("cycle has no bill")}, nil
		}
		return ReminderResult{}, fmt.Errorf("failed to get last bill of cycle %d: %w", cycle.ID, err)
	}
	if !cycle.IsLastBillLate(last, now) {
		return ReminderResult{Outcome: skipped("last bill is not late")}, nil
	}

	ok, err := re.CanSendReminder(ctx, last.DueDate, now)
	if err != nil {
		return ReminderResult{}, err
	}
	if !ok {
		return ReminderResult{Outcome: skipped("reminder not permitted yet")}, nil
	}

	amount, err := re.outstanding(ctx, cycle)
	if err != nil {
		return ReminderResult{}, err
	}
	if !amount.IsPositive() {
		re.log.WithFields(logrus.Fields{"membership_id": m.ID, "cycle_id": cycle.ID}).
			Warn("Cycle is covered by payments but not marked paid")
		return ReminderResult{Outcome: skipped("cycle is covered by payments")}, nil
	}

	bill, err := re.emitter.EmitReminder(ctx, m, cycle, amount, now)
	if err != nil {
		return ReminderResult{}, err
	}
	return ReminderResult{Outcome: created("reminder sent"), Bill: bill}, nil
}

// SendReminder sends a reminder for m's latest cycle without checking
// lateness or eligibility. Operators use it for manual follow-up.
// It fails with billing.ErrCyclePaid when nothing is owed.
func (re *ReminderEngine) SendReminder(ctx context.Context, m *membership.Membership, now time.Time) (*billing.Bill, error) {
	cycle, err := re.repo.LatestCycle(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest cycle of %s: %w", m, err)
	}
	if cycle.IsPaid {
		return nil, fmt.Errorf("cycle %d of %s: %w", cycle.ID, m, billing.ErrCyclePaid)
	}
	amount, err := re.outstanding(ctx, cycle)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("cycle %d of %s is covered by payments: %w", cycle.ID, m, billing.ErrCyclePaid)
	}
	return re.emitter.EmitReminder(ctx, m, cycle, amount, now)
}

// outstanding is the cycle sum minus the payments recorded against it.
func (re *ReminderEngine) outstanding(ctx context.Context, c *billing.Cycle) (decimal.Decimal, error) {
	paid, err := re.repo.SumPaymentsForCycle(ctx, c.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments of cycle %d: %w", c.ID, err)
	}
	return c.Sum.Sub(paid), nil
}
