package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quizbot/internal/config"
	"quizbot/internal/storage"
	logx "quizbot/pkg/logx"
)

// NewMigrateCmd applies the database schema without starting the bot.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(*configPath)
		},
	}
}

func runMigrate(configPath string) error {
	cfg, err := config.NewManager(configPath).Load()
	if err != nil {
		return err
	}

	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "sqlite"
	}
	if driver == "memory" {
		return fmt.Errorf("storage driver %q has no schema to migrate", driver)
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./quizbot.db"
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}

	log := logx.NewConsole("INFO").With(logx.String("comp", "migrate"))
	// Open applies pending migrations on the way up.
	st, err := storage.Open(storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, log)
	if err != nil {
		return err
	}
	if err := st.Close(); err != nil {
		return err
	}
	log.Info("schema up to date", logx.String("path", path))
	return nil
}
