package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gmail-auto-reply-go/internal/app"
	"gmail-auto-reply-go/internal/config"
	"gmail-auto-reply-go/internal/db"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	app.ConfigureLogging(cfg.Log)
	return cfg, nil
}

// openApp loads config and builds the application without starting it.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and the watch renewal scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				logrus.Fatalf("Configuration validation failed: %v", err)
			}

			logrus.Info("Starting Gmail auto-reply service")
			a, err := app.New(cfg)
			if err != nil {
				logrus.Fatalf("Failed to initialize application: %v", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					logrus.Errorf("Failed to release resources: %v", err)
				}
			}()

			if migrate {
				if err := db.Migrate(a.DB); err != nil {
					return fmt.Errorf("failed to migrate database: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "run schema migrations before serving")
	return cmd
}
