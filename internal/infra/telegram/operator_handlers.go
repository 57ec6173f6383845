package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"membership_billing/internal/app"
)

const msgUnauthorized = "Error: you are not allowed to run this command."

// BatchRunner runs one billing batch.
type BatchRunner interface {
	RunOnce(ctx context.Context, now time.Time) (app.RunSummary, error)
}

// LastRunReporter knows the most recent finished run.
type LastRunReporter interface {
	LastRun() (app.RunSummary, bool)
}

// OperatorCommands serves the treasurer's bot commands. Only the configured
// admin may use them.
type OperatorCommands struct {
	runner     BatchRunner
	lastRun    LastRunReporter
	adminID    int64
	runTimeout time.Duration
	logger     *logrus.Entry
	now        func() time.Time
}

func NewOperatorCommands(runner BatchRunner, lastRun LastRunReporter, adminID int64, runTimeout time.Duration, baseLogger *logrus.Entry) *OperatorCommands {
	return &OperatorCommands{
		runner:     runner,
		lastRun:    lastRun,
		adminID:    adminID,
		runTimeout: runTimeout,
		logger:     baseLogger.WithField("handler_group", "operator"),
		now:        time.Now,
	}
}

// Register installs the command handlers on b.
func (oc *OperatorCommands) Register(ctx context.Context, b *telebot.Bot) {
	b.Handle("/start", func(c telebot.Context) error {
		return c.Send(oc.help(c.Sender().ID))
	})
	b.Handle("/help", func(c telebot.Context) error {
		return c.Send(oc.help(c.Sender().ID))
	})
	b.Handle("/run_billing", func(c telebot.Context) error {
		if c.Sender().ID == oc.adminID {
			_ = c.Send("Billing run started...")
		}
		return c.Send(oc.runBilling(ctx, c.Sender().ID))
	})
	b.Handle("/status", func(c telebot.Context) error {
		return c.Send(oc.status(c.Sender().ID))
	})
}

func (oc *OperatorCommands) help(senderID int64) string {
	if senderID != oc.adminID {
		return "Hello! This bot reports on membership billing runs to the treasurer."
	}
	var helpText strings.Builder
	helpText.WriteString("Available commands:\n\n")
	helpText.WriteString("/run_billing - run the billing batch now\n")
	helpText.WriteString("/status - show the result of the last run\n")
	helpText.WriteString("/pending [new|preapproved] - list memberships awaiting a decision\n")
	helpText.WriteString("/preapprove <ID>, /approve <ID>, /disapprove <ID> - decide on a membership\n")
	helpText.WriteString("/remind <ID> - send a payment reminder now\n")
	helpText.WriteString("/bills <ID> - show billing cycles, bills and payments\n")
	helpText.WriteString("/help - show this message")
	return helpText.String()
}

func (oc *OperatorCommands) runBilling(ctx context.Context, senderID int64) string {
	handlerLogger := oc.logger.WithFields(logrus.Fields{
		"handler":   "/run_billing",
		"sender_id": senderID,
	})
	handlerLogger.Info("Command received")

	if senderID != oc.adminID {
		handlerLogger.Warn("Unauthorized access attempt")
		return msgUnauthorized
	}

	runCtx, cancel := context.WithTimeout(ctx, oc.runTimeout)
	defer cancel()
	summary, err := oc.runner.RunOnce(runCtx, oc.now())
	if err != nil {
		handlerLogger.WithError(err).Error("Billing run failed")
		return fmt.Sprintf("Billing run failed: %v", err)
	}
	return formatSummary(summary)
}

func (oc *OperatorCommands) status(senderID int64) string {
	if senderID != oc.adminID {
		oc.logger.WithFields(logrus.Fields{"handler": "/status", "sender_id": senderID}).Warn("Unauthorized access attempt")
		return msgUnauthorized
	}
	summary, ok := oc.lastRun.LastRun()
	if !ok {
		return "No billing run has finished since the service started."
	}
	return formatSummary(summary)
}

func formatSummary(s app.RunSummary) string {
	return fmt.Sprintf(
		"Billing run %s at %s\nmemberships: %d\ncycles created: %d\nbills sent: %d\nreminders sent: %d\nfailed: %d\nerrors: %d\nduration: %s",
		s.RunID, s.At.Format("2006-01-02 15:04"), s.Memberships, s.CyclesCreated, s.BillsSent,
		s.RemindersSent, s.Failed, s.Errors, s.Duration.Round(time.Millisecond),
	)
}
