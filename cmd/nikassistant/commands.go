package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tazhate/nikassistant/config"
	"github.com/tazhate/nikassistant/internal/logger"
	"github.com/tazhate/nikassistant/internal/notifier"
	"github.com/tazhate/nikassistant/internal/scheduler"
	"github.com/tazhate/nikassistant/internal/service"
	"github.com/tazhate/nikassistant/internal/storage"
	"go.uber.org/zap"
)

func newRemindersCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "reminders",
		Short: "Show the reminders that would be scheduled now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := cliSetup(loadConfig)
			if err != nil {
				return err
			}
			defer logger.Sync(log)

			taskSvc := service.NewTaskService(storage.NewTaskFile(cfg.TasksFile), cfg.Timezone, log)
			sched := scheduler.New(cfg, taskSvc, notifier.NewDispatcher(nil, log), log)
			defer sched.Stop()

			sched.Reload(taskSvc.ListActive())
			reminders := sched.Reminders()
			if len(reminders) == 0 {
				fmt.Println("No reminders scheduled")
				return nil
			}

			fmt.Printf("Reminders (%d):\n", len(reminders))
			for _, r := range reminders {
				fmt.Printf("  %s  %s\n", r.FireTime.In(cfg.Timezone).Format("2006-01-02 15:04"), r.Title)
			}
			return nil
		},
	}
}

func newNotifyTestCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test notification through every channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := cliSetup(loadConfig)
			if err != nil {
				return err
			}
			defer logger.Sync(log)

			d := notifier.NewDispatcher(newSenders(cfg, log), log, notifier.WithSendTimeout(cfg.SendTimeout))

			failed := 0
			for _, n := range notifier.SelfTestNotifications() {
				for _, res := range d.Deliver(cmd.Context(), n) {
					if res.OK() {
						fmt.Printf("  ✅ %-8s %s (%s)\n", res.Channel, n.Title, res.Duration.Round(time.Millisecond))
						continue
					}
					failed++
					fmt.Printf("  ❌ %-8s %s: %v\n", res.Channel, n.Title, res.Err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d channel(s) failed", failed)
			}
			return nil
		},
	}
}

func newCalendarsCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "calendars",
		Short: "List CalDAV calendars",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := cliSetup(loadConfig)
			if err != nil {
				return err
			}
			defer logger.Sync(log)

			calSvc := newCalendarService(cfg, nil, nil, log)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			calendars, err := calSvc.DiscoverCalendars(ctx)
			if err != nil {
				return fmt.Errorf("failed to list calendars: %w", err)
			}
			if len(calendars) == 0 {
				fmt.Println("No calendars found")
				return nil
			}

			fmt.Println("Calendars:")
			for _, c := range calendars {
				fmt.Printf("  - %s\n    Path: %s\n", c.DisplayName, c.Path)
				if c.Description != "" {
					fmt.Printf("    Description: %s\n", c.Description)
				}
			}
			return nil
		},
	}
}

func newEmailsCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var query string
	var suggest bool

	cmd := &cobra.Command{
		Use:   "emails",
		Short: "List recent inbox emails by importance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := cliSetup(loadConfig)
			if err != nil {
				return err
			}
			defer logger.Sync(log)

			inboxSvc := newInboxService(cfg, nil, nil, log)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			if suggest {
				suggestions, err := inboxSvc.Suggestions(ctx)
				if err != nil {
					return fmt.Errorf("failed to build suggestions: %w", err)
				}
				if len(suggestions) == 0 {
					fmt.Println("No task suggestions")
					return nil
				}
				for _, sg := range suggestions {
					fmt.Printf("  - [%s] %s (due %s)\n    %s\n", sg.Priority, sg.Title, sg.DueDate, sg.Description)
				}
				return nil
			}

			var emails []service.ScoredEmail
			if query != "" {
				emails, err = inboxSvc.Search(ctx, query, 0)
			} else {
				emails, err = inboxSvc.Recent(ctx)
			}
			if err != nil {
				return fmt.Errorf("failed to read inbox: %w", err)
			}
			if len(emails) == 0 {
				fmt.Println("No emails found")
				return nil
			}
			for _, e := range emails {
				fmt.Printf("  - [%s] %s\n    From: %s  %s\n", e.Importance, e.Subject, e.Sender, e.Date.In(cfg.Timezone).Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search text instead of the recent window")
	cmd.Flags().BoolVar(&suggest, "suggest", false, "print follow-up task suggestions")
	return cmd
}

func cliSetup(loadConfig func() (*config.Config, error)) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewDevelopment(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, log, nil
}
