package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"membership_billing/internal/app"
	"membership_billing/internal/infra/config"
	idb "membership_billing/internal/infra/database"
	"membership_billing/internal/infra/logger"
	imail "membership_billing/internal/infra/mail"
	"membership_billing/internal/infra/metrics"
	"membership_billing/internal/infra/tracing"
)

// services is the wired object graph shared by the subcommands.
type services struct {
	db          *sql.DB
	memberRepo  *idb.PostgresMembershipRepository
	billingRepo *idb.PostgresBillingRepository
	members     *app.MembershipService
	reminders   *app.ReminderEngine
	billing     *app.BillingService
	recorder    *metrics.Recorder
	log         *logrus.Entry
	shutdown    tracing.ShutdownFunc
}

func billingConfig(cfg *config.AppConfig) app.BillingConfig {
	return app.BillingConfig{
		DaysBeforeCycle:   cfg.BillDaysBeforeCycle,
		DaysToDue:         cfg.BillDaysToDue,
		ReminderGraceDays: cfg.ReminderGraceDays,
		EnableReminders:   cfg.EnableReminders,
		CycleLengthMonths: cfg.CycleLengthMonths,
		IBAN:              cfg.IBANAccountNumber,
		BIC:               cfg.BICCode,
		FromEmail:         cfg.BillingFromEmail,
		CCEmail:           cfg.BillingCCEmail,
		BillSubject:       cfg.BillSubject,
		ReminderSubject:   cfg.ReminderSubject,
	}
}

func mailConfig(cfg *config.AppConfig) imail.Config {
	return imail.Config{
		MboxPath:      cfg.EmailMboxFilePath,
		SMTPHost:      cfg.SMTPHost,
		SMTPPort:      cfg.SMTPPort,
		SMTPUsername:  cfg.SMTPUsername,
		SMTPPassword:  cfg.SMTPPassword,
		RatePerMinute: cfg.MailRatePerMinute,
	}
}

func openDatabase(ctx context.Context, cfg *config.AppConfig) (*sql.DB, error) {
	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	return db, nil
}

func buildServices(ctx context.Context, cfg *config.AppConfig) (*services, error) {
	log := logrus.NewEntry(logger.Log)

	shutdown, err := tracing.Setup(ctx, cfg.OTLPEndpoint, "membership-billing")
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	log.Info("Database connection established successfully.")

	memberRepo := idb.NewPostgresMembershipRepository(db)
	auditLog := idb.NewPostgresAuditLog(db)
	billingRepo := idb.NewPostgresBillingRepository(db)

	bcfg := billingConfig(cfg)
	notices, err := app.NewNoticeRenderer(bcfg)
	if err != nil {
		_ = db.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("invalid notice templates: %w", err)
	}
	mailer := imail.New(mailConfig(cfg), log)

	members := app.NewMembershipService(memberRepo, auditLog, log)
	emitter := app.NewBillEmitter(billingRepo, mailer, notices, bcfg, log)
	cycles := app.NewCycleManager(billingRepo, app.NewFeeResolver(billingRepo), emitter, members, bcfg, log)
	reminders := app.NewReminderEngine(billingRepo, emitter, bcfg, log)
	recorder := metrics.NewRecorder()

	return &services{
		db:          db,
		memberRepo:  memberRepo,
		billingRepo: billingRepo,
		members:     members,
		reminders:   reminders,
		billing:     app.NewBillingService(memberRepo, cycles, reminders, bcfg, log, recorder),
		recorder:    recorder,
		log:         log,
		shutdown:    shutdown,
	}, nil
}

func (s *services) Close() {
	ctx := context.Background()
	if err := s.shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("Tracer shutdown failed")
	}
	if err := s.db.Close(); err != nil {
		s.log.WithError(err).Warn("Database close failed")
	}
}
