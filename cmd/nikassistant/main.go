package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tazhate/nikassistant/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "nikassistant",
		Short:         "Personal task reminders and notifications",
		Long:          "NikAssistant keeps task reminders scheduled and delivers them to desktop, email and mobile",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (default $ASSISTANT_CONFIG)")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(newServeCmd(loadConfig))
	rootCmd.AddCommand(newRemindersCmd(loadConfig))
	rootCmd.AddCommand(newNotifyTestCmd(loadConfig))
	rootCmd.AddCommand(newCalendarsCmd(loadConfig))
	rootCmd.AddCommand(newEmailsCmd(loadConfig))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
