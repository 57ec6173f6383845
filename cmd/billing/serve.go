package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/telebot.v3"

	"membership_billing/internal/infra/httpapi"
	"membership_billing/internal/infra/logger"
	"membership_billing/internal/infra/scheduler"
	"membership_billing/internal/infra/telegram"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing schedule with the ops HTTP server and operator bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	svc, err := buildServices(ctx, appCfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	log := svc.log

	billingScheduler := scheduler.NewBillingScheduler(svc.billing, log, appCfg.CronSpecBilling, appCfg.RunTimeout)
	if err := billingScheduler.Start(); err != nil {
		return err
	}

	api := httpapi.NewServer(svc.billing, svc.recorder, svc.recorder.Registry(), appCfg.RunTimeout, appCfg.HTTPRunToken, log)
	httpServer := &http.Server{
		Addr:              appCfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", appCfg.HTTPAddr).Info("Ops HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Critical(log).WithError(err).Error("Ops HTTP server stopped")
		}
	}()

	var bot *telebot.Bot
	if appCfg.TelegramToken != "" {
		bot, err = startBot(ctx, svc, log)
		if err != nil {
			billingScheduler.Stop()
			return err
		}
	} else {
		log.Info("TELEGRAM_TOKEN not set, operator bot disabled")
	}

	log.Info("Application setup complete. Scheduler and HTTP server are running...")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down application...")
	if bot != nil {
		bot.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown failed")
	}
	billingScheduler.Stop()
	log.Info("Application shut down gracefully.")
	return nil
}

func startBot(ctx context.Context, svc *services, log *logrus.Entry) (*telebot.Bot, error) {
	botLog := log.WithField("component", "telebot")
	pref := telebot.Settings{
		Token:  appCfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := botLog.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("could not create Telegram bot: %w", err)
	}

	if appCfg.AdminTelegramID != 0 {
		hook := telegram.NewAlertHook(telegram.NewTelebotAdapter(bot), appCfg.AdminTelegramID)
		logger.Log.AddHook(hook)
		if err := svc.recorder.WatchAlertDrops(hook.Dropped); err != nil {
			return nil, fmt.Errorf("could not export alert drops: %w", err)
		}
		go hook.Run(ctx)
	}

	telegram.NewOperatorCommands(svc.billing, svc.recorder, appCfg.AdminTelegramID, appCfg.RunTimeout, log).Register(ctx, bot)
	telegram.NewMembershipCommands(svc.members, svc.memberRepo, svc.reminders, svc.reminders, appCfg.AdminTelegramID, log).Register(ctx, bot)
	log.Info("Operator bot commands registered.")

	go bot.Start()
	return bot, nil
}
