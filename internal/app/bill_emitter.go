package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/mail"
	"membership_billing/internal/domain/membership"
)

// BillEmitter creates bills and sends their notices.
type BillEmitter struct {
	repo    billing.Repository
	mailer  mail.Sender
	notices *NoticeRenderer
	cfg     BillingConfig
	log     *logrus.Entry
}

func NewBillEmitter(repo billing.Repository, mailer mail.Sender, notices *NoticeRenderer, cfg BillingConfig, log *logrus.Entry) *BillEmitter {
	return &BillEmitter{
		repo:    repo,
		mailer:  mailer,
		notices: notices,
		cfg:     cfg,
		log:     log.WithField("component", "bill_emitter"),
	}
}

// Emit creates the original bill for cycle c and mails it. A cycle is billed
// at most once: if it already has an original bill, Emit returns
// billing.ErrAlreadyBilled and sends nothing.
func (e *BillEmitter) Emit(ctx context.Context, m *membership.Membership, c *billing.Cycle, now time.Time) (*billing.Bill, error) {
	has, err := e.repo.HasOriginalBill(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check bills of cycle %d: %w", c.ID, err)
	}
	if has {
		return nil, billing.ErrAlreadyBilled
	}

	bill := &billing.Bill{
		CycleID:         c.ID,
		ReferenceNumber: referenceFor(m, c),
		DueDate:         now.Add(e.cfg.dueAfter()),
		Amount:          c.Sum,
	}
	if err := e.repo.CreateBill(ctx, bill); err != nil {
		if errors.Is(err, billing.ErrDuplicateBill) {
			return nil, billing.ErrAlreadyBilled
		}
		return nil, fmt.Errorf("failed to create bill for cycle %d: %w", c.ID, err)
	}

	e.dispatch(ctx, m, c, bill)
	return bill, nil
}

// EmitReminder creates a reminder bill for amount on cycle c and mails it.
// The reminder reuses the cycle's reference number.
func (e *BillEmitter) EmitReminder(ctx context.Context, m *membership.Membership, c *billing.Cycle, amount decimal.Decimal, now time.Time) (*billing.Bill, error) {
	bill := &billing.Bill{
		CycleID:         c.ID,
		ReferenceNumber: referenceFor(m, c),
		DueDate:         now.Add(e.cfg.dueAfter()),
		Amount:          amount,
		Reminder:        true,
	}
	if err := e.repo.CreateBill(ctx, bill); err != nil {
		return nil, fmt.Errorf("failed to create reminder for cycle %d: %w", c.ID, err)
	}

	e.dispatch(ctx, m, c, bill)
	return bill, nil
}

// dispatch renders and sends the notice. Delivery problems are logged only;
// the bill stays recorded either way.
func (e *BillEmitter) dispatch(ctx context.Context, m *membership.Membership, c *billing.Cycle, b *billing.Bill) {
	log := e.log.WithFields(logrus.Fields{
		"membership_id":    m.ID,
		"cycle_id":         c.ID,
		"bill_id":          b.ID,
		"reference_number": b.ReferenceNumber,
		"reminder":         b.IsReminder(),
	})

	msg, err := e.notices.Render(m, c, b)
	if err != nil {
		log.WithError(err).Error("Failed to render bill notice")
		return
	}
	if msg.To == "" {
		log.Warn("Membership has no billing address, notice not sent")
		return
	}
	if err := e.mailer.Send(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to send bill notice")
		return
	}
	log.WithField("to", msg.To).Info("Bill notice sent")
}

func referenceFor(m *membership.Membership, c *billing.Cycle) string {
	if c.ReferenceNumber != "" {
		return c.ReferenceNumber
	}
	return billing.GenerateReferenceNumber(m.ID, c.Start.Year())
}
