package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"slot-booking/handlers"
	"slot-booking/notification"
	"slot-booking/router"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, stores, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			log.Error("failed to close stores", "error", err)
		}
	}()

	notifier, err := notification.NewTelegramNotifier(cfg.TelegramBot, log)
	if err != nil {
		return err
	}

	manager := newManager(cfg, stores, log)
	signKey := []byte(cfg.SignKey)
	h := handlers.New(manager, stores.Events, stores.Users, notifier, signKey, log)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	router.SetupRoutes(app, h, signKey)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server started",
			"addr", cfg.HTTPAddr,
			"backend", cfg.StoreBackend,
			"strategy", manager.Strategy().String(),
		)
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
