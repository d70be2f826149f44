// Package cli holds the command line entry points of the booking service.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"slot-booking/config"
	"slot-booking/database"
	"slot-booking/reservation"
)

var envFile string

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "slot-booking",
		Short:         "Capacity-bounded event slot booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				config.LoadEnvFile(envFile)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file")

	root.AddCommand(newServeCommand(), newSeedCommand(), newAvailabilityCommand())
	return root
}

func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// setup is the shared start of every command: configuration, logger and the
// stores of the configured backend.
func setup(ctx context.Context) (*config.Config, *slog.Logger, *database.Stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	stores, err := database.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	return cfg, log, stores, nil
}

func newManager(cfg *config.Config, stores *database.Stores, log *slog.Logger) *reservation.Manager {
	return reservation.NewManager(stores.Events, cfg.Booking, log)
}
