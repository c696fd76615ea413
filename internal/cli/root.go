// Package cli is the command line entry point for the quiz bot.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "./config.yaml"
	}

	cmd := &cobra.Command{
		Use:   "quizbot",
		Short: "Telegram group quiz bot with scheduled questions and leaderboards",
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML or JSON config")
	cmd.AddCommand(NewServeCmd(&configPath))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	return cmd
}
