package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shotasten/union-board/internal/app"
	"github.com/shotasten/union-board/internal/config"
	"github.com/shotasten/union-board/internal/logging"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	level := os.Getenv("LOG_LEVEL")
	if level != "" {
		logrusLevel, err := log.ParseLevel(level)
		if err != nil {
			log.Fatal(err)
		}
		log.SetLevel(logrusLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "union-board",
		Short:         "Attendance ledger mirrored into a shared Google Calendar",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the YAML configuration")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sync jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	var limitToWindow bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full reconciliation between the ledger and the calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), configPath, func(ctx context.Context, deps *app.Dependencies) (any, error) {
				return deps.SyncService.SyncAll(ctx, limitToWindow)
			})
		},
	}
	syncCmd.Flags().BoolVar(&limitToWindow, "window", true, "limit the pass to the configured past/future window")
	cmd.AddCommand(syncCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "diff-sync",
		Short: "Refresh summaries of events whose responses changed since the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), configPath, func(ctx context.Context, deps *app.Dependencies) (any, error) {
				return deps.DiffScheduler.Run(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "push <eventId>",
		Short: "Push a single ledger event to the calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), configPath, func(ctx context.Context, deps *app.Dependencies) (any, error) {
				ref, err := deps.SyncService.SyncOneEvent(ctx, args[0])
				return map[string]string{"externalRef": ref}, err
			})
		},
	})

	return cmd
}

func loadConfig(path string) (config.Application, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Application{}, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	closer := logging.Setup(cfg.Log)
	return cfg, func() { _ = closer.Close() }, nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, closeLog, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run()
}

func withDependencies(ctx context.Context, configPath string, run func(ctx context.Context, deps *app.Dependencies) (any, error)) error {
	cfg, closeLog, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	db, deps, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := run(ctx, deps)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
