package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/roomrelay/internal/api"
	"github.com/ashureev/roomrelay/internal/bot"
	"github.com/ashureev/roomrelay/internal/broadcast"
	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/config"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/feed"
	"github.com/ashureev/roomrelay/internal/relay"
	"github.com/ashureev/roomrelay/internal/reset"
	"github.com/ashureev/roomrelay/internal/retention"
	"github.com/ashureev/roomrelay/internal/rooms"
	"github.com/ashureev/roomrelay/internal/store"
	"github.com/ashureev/roomrelay/internal/telegram"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay bot and its HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	slog.Info("Starting relay",
		"port", cfg.Port,
		"webhook", cfg.UsesWebhook(),
		"timezone", cfg.Timezone,
		"reset_cutover", cfg.ResetCutover,
		"rooms", len(cfg.Rooms))

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		slog.Error("Database health check failed", "error", err)
		return err
	}
	slog.Info("Database connected")

	tg, err := telegram.Connect(cfg.BotToken)
	if err != nil {
		slog.Error("Failed to connect to Telegram", "error", err)
		return err
	}
	slog.Info("Authorized on Telegram", "bot", tg.Self.UserName)

	// Initialize services.
	clk := clock.Real()
	window := clock.NewDayWindow(clk, cfg.Location(), cfg.Cutover())
	hub := feed.NewHub(cfg.EventFeedSize)
	messenger := telegram.NewClient(tg)

	tracker := rooms.NewTracker(repo, window, cfg.Rooms)
	engine := reset.NewEngine(repo, window)
	engine.OnReset(func(day domain.Date) {
		hub.Publish(feed.Event{Type: feed.EventSelectionReset, Detail: string(day)})
	})
	router := relay.NewRouter(repo, messenger, cfg.OperatorChatID, clk, hub)
	workflow := broadcast.NewWorkflow(repo, tracker, messenger, cfg.Rooms, clk, hub)
	if err := workflow.Restore(parent); err != nil {
		slog.Error("Failed to restore pending broadcast", "error", err)
		return err
	}

	dispatcher := bot.NewDispatcher(engine, tracker, router, workflow, messenger)
	runner := bot.NewRunner(dispatcher, cfg.MaxConcurrentEvents)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Catch up on a reset missed while the bot was down.
	engine.MaybeReset(ctx)
	retention.StartWorker(ctx, repo, clk, cfg.MappingRetention, retention.DefaultInterval)

	var webhook http.Handler
	if cfg.UsesWebhook() {
		if err := telegram.RegisterWebhook(tg, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			slog.Error("Failed to register webhook", "error", err)
			return err
		}
		webhook = telegram.NewWebhookHandler(tg, runner, cfg.WebhookSecret)
		slog.Info("Receiving updates by webhook", "url", cfg.WebhookURL)
	} else {
		if err := telegram.RemoveWebhook(tg); err != nil {
			slog.Warn("Failed to remove webhook, polling may be rejected", "error", err)
		}
		go telegram.Poll(ctx, tg, runner)
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Routes{
			Handler: api.NewHandler(repo, window, hub, workflow),
			Events:  api.NewEventStream(hub),
			Webhook: webhook,

			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket feed is long-lived
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	runner.Wait()
	slog.Info("Relay stopped successfully")
	return nil
}
