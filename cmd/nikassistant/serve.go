package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tazhate/nikassistant/config"
	"github.com/tazhate/nikassistant/internal/api"
	"github.com/tazhate/nikassistant/internal/channel"
	"github.com/tazhate/nikassistant/internal/clients/caldav"
	"github.com/tazhate/nikassistant/internal/clients/mailbox"
	"github.com/tazhate/nikassistant/internal/domain"
	"github.com/tazhate/nikassistant/internal/logger"
	"github.com/tazhate/nikassistant/internal/notifier"
	"github.com/tazhate/nikassistant/internal/scheduler"
	"github.com/tazhate/nikassistant/internal/service"
	"github.com/tazhate/nikassistant/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, notifier and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Debug)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			defer logger.Sync(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer store.Close()

	taskSvc := service.NewTaskService(storage.NewTaskFile(cfg.TasksFile), cfg.Timezone, log)

	dispatcher := notifier.NewDispatcher(newSenders(cfg, log), log,
		notifier.WithOutbox(store),
		notifier.WithJournal(store),
		notifier.WithSendTimeout(cfg.SendTimeout),
	)

	sched := scheduler.New(cfg, taskSvc, dispatcher, log)
	taskSvc.Subscribe(sched)

	calSvc := newCalendarService(cfg, store, dispatcher, log)
	if calSvc.IsConfigured() {
		if err := sched.AddJob("@every "+cfg.Calendar.PollInterval.String(), calSvc.RunCheck); err != nil {
			return err
		}
	}

	inboxSvc := newInboxService(cfg, store, dispatcher, log)
	if inboxSvc.IsConfigured() {
		if err := sched.AddJob("@every "+cfg.Inbox.PollInterval.String(), inboxSvc.RunCheck); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Deps{
		Tasks:         taskSvc,
		Reminders:     sched,
		Notifications: dispatcher,
		Deliveries:    store,
		Calendar:      calSvc,
		Inbox:         inboxSvc,
	}, cfg.AllowedOrigins, log)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatcher.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Start(gctx)
	})

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown failed", zap.Error(err))
		}
		sched.Stop()
		dispatcher.Stop()
		return nil
	})

	log.Info("NikAssistant started",
		zap.Int("tasks", len(taskSvc.ListActive())),
		zap.Bool("email", dispatcher.Available(domain.ChannelEmail)),
		zap.Bool("mobile", dispatcher.Available(domain.ChannelMobile)),
		zap.Bool("calendar", calSvc.IsConfigured()),
		zap.Bool("inbox", inboxSvc.IsConfigured()),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("NikAssistant stopped")
	return nil
}

func newSenders(cfg *config.Config, log *zap.Logger) []notifier.Sender {
	return []notifier.Sender{
		channel.NewDesktop(cfg.Desktop, log),
		channel.NewEmail(cfg.Email, log),
		channel.NewMobile(cfg.Mobile, log),
	}
}

func newCalendarService(cfg *config.Config, alerts service.AlertStore, n service.Notifier, log *zap.Logger) *service.CalendarService {
	var source service.EventSource
	if cfg.CalendarEnabled() {
		source = caldav.NewClient(cfg.Calendar.URL, cfg.Calendar.Username, cfg.Calendar.Password,
			cfg.Calendar.CalendarPath, cfg.Timezone)
	}
	return service.NewCalendarService(source, alerts, n, cfg.Calendar.LeadTime, cfg.Timezone,
		cfg.MobileChannelEnabled(), log)
}

func newInboxService(cfg *config.Config, alerts service.EmailAlertStore, n service.Notifier, log *zap.Logger) *service.InboxService {
	var source service.MailSource
	if cfg.InboxEnabled() {
		source = mailbox.NewClient(cfg.Inbox.Host, cfg.Inbox.Port, cfg.Inbox.Username, cfg.Inbox.Password, cfg.Inbox.Mailbox)
	}
	return service.NewInboxService(source, alerts, n, cfg.Inbox.Lookback, cfg.Inbox.MaxMessages, cfg.Timezone, log)
}
