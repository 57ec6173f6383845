package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"membership_billing/internal/app"
	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
)

// MembershipWorkflow moves memberships through the approval states.
type MembershipWorkflow interface {
	Preapprove(ctx context.Context, id int64, actor string) error
	Approve(ctx context.Context, id int64, actor string) error
	Disapprove(ctx context.Context, id int64, actor string) error
}

// MembershipLister looks memberships up.
type MembershipLister interface {
	GetByID(ctx context.Context, id int64) (*membership.Membership, error)
	ListByStatus(ctx context.Context, status membership.Status) ([]*membership.Membership, error)
}

// ManualReminder sends a reminder without the automatic eligibility checks.
type ManualReminder interface {
	SendReminder(ctx context.Context, m *membership.Membership, now time.Time) (*billing.Bill, error)
}

// StatementReader lists the billing history of a membership.
type StatementReader interface {
	Statement(ctx context.Context, membershipID int64, now time.Time) ([]app.CycleStatement, error)
}

// MembershipCommands lets the admin work the approval queue from the chat.
type MembershipCommands struct {
	workflow   MembershipWorkflow
	lister     MembershipLister
	reminder   ManualReminder
	statements StatementReader
	adminID    int64
	logger     *logrus.Entry
	now        func() time.Time
}

func NewMembershipCommands(workflow MembershipWorkflow, lister MembershipLister, reminder ManualReminder, statements StatementReader, adminID int64, baseLogger *logrus.Entry) *MembershipCommands {
	return &MembershipCommands{
		workflow:   workflow,
		lister:     lister,
		reminder:   reminder,
		statements: statements,
		adminID:    adminID,
		logger:     baseLogger.WithField("handler_group", "membership"),
		now:        time.Now,
	}
}

type transitionFunc func(ctx context.Context, id int64, actor string) error

// Register installs the approval, /pending, /remind and /bills commands
// on b.
func (mc *MembershipCommands) Register(ctx context.Context, b *telebot.Bot) {
	commands := map[string]transitionFunc{
		"/preapprove": mc.workflow.Preapprove,
		"/approve":    mc.workflow.Approve,
		"/disapprove": mc.workflow.Disapprove,
	}
	for name, fn := range commands {
		b.Handle(name, func(c telebot.Context) error {
			return c.Send(mc.transition(ctx, name, fn, c.Sender().ID, c.Args()))
		})
	}
	b.Handle("/pending", func(c telebot.Context) error {
		return c.Send(mc.pending(ctx, c.Sender().ID, c.Args()))
	})
	b.Handle("/remind", func(c telebot.Context) error {
		return c.Send(mc.remind(ctx, c.Sender().ID, c.Args()))
	})
	b.Handle("/bills", func(c telebot.Context) error {
		return c.Send(mc.bills(ctx, c.Sender().ID, c.Args()))
	})
}

func (mc *MembershipCommands) transition(ctx context.Context, command string, fn transitionFunc, senderID int64, args []string) string {
	handlerLogger := mc.logger.WithFields(logrus.Fields{
		"handler":   command,
		"sender_id": senderID,
	})
	handlerLogger.Info("Command received")

	if senderID != mc.adminID {
		handlerLogger.Warn("Unauthorized access attempt")
		return msgUnauthorized
	}
	id, reply := parseMembershipID(handlerLogger, command, args)
	if reply != "" {
		return reply
	}
	handlerLogger = handlerLogger.WithField("membership_id", id)

	actor := fmt.Sprintf("telegram:%d", senderID)
	if err := fn(ctx, id, actor); err != nil {
		logWithError := handlerLogger.WithError(err)
		switch {
		case errors.Is(err, membership.ErrNotFound):
			logWithError.Warn("Membership not found")
			return fmt.Sprintf("Membership %d not found.", id)
		case errors.Is(err, membership.ErrInvalidTransition):
			logWithError.Warn("Invalid transition")
			return fmt.Sprintf("Membership %d cannot be changed that way: %v", id, err)
		default:
			logWithError.Error("Status change failed")
			return fmt.Sprintf("An error occurred while updating membership %d: %v", id, err)
		}
	}
	handlerLogger.Info("Membership status changed")
	return fmt.Sprintf("Membership %d updated (%s).", id, strings.TrimPrefix(command, "/"))
}

func parseMembershipID(log *logrus.Entry, command string, args []string) (int64, string) {
	if len(args) != 1 {
		return 0, fmt.Sprintf("Invalid command format. Use: %s <MembershipID>", command)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		log.WithField("arg", args[0]).Warn("Invalid membership ID format")
		return 0, "Error: membership ID must be a number."
	}
	return id, ""
}

// remind sends a reminder for the membership's latest cycle right away.
func (mc *MembershipCommands) remind(ctx context.Context, senderID int64, args []string) string {
	handlerLogger := mc.logger.WithFields(logrus.Fields{
		"handler":   "/remind",
		"sender_id": senderID,
	})
	handlerLogger.Info("Command received")

	if senderID != mc.adminID {
		handlerLogger.Warn("Unauthorized access attempt")
		return msgUnauthorized
	}
	id, reply := parseMembershipID(handlerLogger, "/remind", args)
	if reply != "" {
		return reply
	}
	handlerLogger = handlerLogger.WithField("membership_id", id)

	m, err := mc.lister.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return fmt.Sprintf("Membership %d not found.", id)
		}
		handlerLogger.WithError(err).Error("Failed to get membership")
		return fmt.Sprintf("An error occurred while loading membership %d: %v", id, err)
	}

	bill, err := mc.reminder.SendReminder(ctx, m, mc.now())
	if err != nil {
		if errors.Is(err, billing.ErrCycleNotFound) {
			return fmt.Sprintf("Membership %d has no billing cycle.", id)
		}
		if errors.Is(err, billing.ErrCyclePaid) {
			handlerLogger.Info("Manual reminder refused, cycle is paid")
			return fmt.Sprintf("Membership %d has no outstanding fee.", id)
		}
		handlerLogger.WithError(err).Error("Manual reminder failed")
		return fmt.Sprintf("Reminder for membership %d failed: %v", id, err)
	}
	handlerLogger.WithField("bill_id", bill.ID).Info("Manual reminder sent")
	return fmt.Sprintf("Reminder sent to %s: %s EUR, reference %s, due %s.",
		m.Name, bill.Amount.StringFixed(2), bill.ReferenceNumber, bill.DueDate.Format("02.01.2006"))
}

// pending lists memberships waiting for a decision. The optional argument
// selects "new" (default) or "preapproved".
func (mc *MembershipCommands) pending(ctx context.Context, senderID int64, args []string) string {
	handlerLogger := mc.logger.WithFields(logrus.Fields{
		"handler":   "/pending",
		"sender_id": senderID,
	})
	if senderID != mc.adminID {
		handlerLogger.Warn("Unauthorized access attempt")
		return msgUnauthorized
	}

	status := membership.StatusNew
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "new":
		case "preapproved":
			status = membership.StatusPreapproved
		default:
			return "Invalid argument. Use 'new' or 'preapproved'."
		}
	}

	list, err := mc.lister.ListByStatus(ctx, status)
	if err != nil {
		handlerLogger.WithError(err).Error("Failed to list memberships")
		return fmt.Sprintf("An error occurred while listing memberships: %v", err)
	}
	if len(list) == 0 {
		return fmt.Sprintf("No %s memberships.", status)
	}

	var response strings.Builder
	fmt.Fprintf(&response, "%d %s memberships:\n", len(list), status)
	for _, m := range list {
		fmt.Fprintf(&response, "\n%d  %s  (%s)", m.ID, m.Name, m.Type)
	}
	return response.String()
}

// bills shows every cycle of a membership with its bills and payments.
func (mc *MembershipCommands) bills(ctx context.Context, senderID int64, args []string) string {
	handlerLogger := mc.logger.WithFields(logrus.Fields{
		"handler":   "/bills",
		"sender_id": senderID,
	})
	if senderID != mc.adminID {
		handlerLogger.Warn("Unauthorized access attempt")
		return msgUnauthorized
	}
	id, reply := parseMembershipID(handlerLogger, "/bills", args)
	if reply != "" {
		return reply
	}

	m, err := mc.lister.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return fmt.Sprintf("Membership %d not found.", id)
		}
		handlerLogger.WithError(err).Error("Failed to get membership")
		return fmt.Sprintf("An error occurred while loading membership %d: %v", id, err)
	}

	statements, err := mc.statements.Statement(ctx, id, mc.now())
	if err != nil {
		handlerLogger.WithError(err).Error("Failed to build statement")
		return fmt.Sprintf("An error occurred while loading bills of membership %d: %v", id, err)
	}
	if len(statements) == 0 {
		return fmt.Sprintf("Membership %d (%s) has no billing cycles.", id, m.Name)
	}

	var response strings.Builder
	fmt.Fprintf(&response, "%s, membership %d (%s):\n", m.Name, id, m.Status)
	for _, s := range statements {
		c := s.Cycle
		fmt.Fprintf(&response, "\n%s to %s", c.Start.Format("02.01.2006"), c.End.Format("02.01.2006"))
		if s.Current {
			response.WriteString(" (current)")
		}
		fmt.Fprintf(&response, "\nreference %s, fee %s EUR, paid %s EUR", c.ReferenceNumber, c.Sum.StringFixed(2), s.Paid.StringFixed(2))
		if c.IsPaid {
			response.WriteString(", settled")
		}
		for _, b := range s.Bills {
			kind := "bill"
			if b.IsReminder() {
				kind = "reminder"
			}
			fmt.Fprintf(&response, "\n  %s %s EUR due %s", kind, b.Amount.StringFixed(2), b.DueDate.Format("02.01.2006"))
		}
		response.WriteString("\n")
	}
	return response.String()
}
