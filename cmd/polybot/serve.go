package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/polybot/internal/config"
	"github.com/fpang/polybot/internal/lambdaboot"
	"github.com/fpang/polybot/internal/telegram"
	"github.com/fpang/polybot/internal/webhook"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Telegram webhook and health check",
		Long: `Serve starts an HTTP server answering GET / with "Ok" and accepting
Telegram updates on the webhook path. With --register the webhook is
re-registered at startup at <app-url>/<webhook path>/.

Media groups are swept in the background; groups that never complete are
evicted after the group TTL and their chat is told why.`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.String("addr", ":8443", "Listen address")
	flags.String("app-url", "", "Public base URL of this server (TELEGRAM_APP_URL)")
	flags.String("bucket", "", "S3 bucket shared with the detection service (BUCKET_NAME)")
	flags.String("detector-url", "", "Base URL of the detection service (DETECTOR_URL)")
	flags.String("group-table", "", "DynamoDB table for media groups; empty keeps them in memory (GROUP_TABLE)")
	flags.Duration("group-ttl", 0, "Evict incomplete media groups after this idle time (GROUP_TTL)")
	flags.Bool("register", false, "Register the webhook with Telegram at startup (REGISTER_WEBHOOK)")

	cmd.PreRunE = bindFlags(map[string]string{
		"addr":         config.KeyAddr,
		"app-url":      config.KeyAppURL,
		"bucket":       config.KeyBucket,
		"detector-url": config.KeyDetectorURL,
		"group-table":  config.KeyGroupTable,
		"group-ttl":    config.KeyGroupTTL,
		"register":     config.KeyRegisterOnBoot,
	})
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	initStart := time.Now()

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := lambdaboot.Build(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.Register {
		if err := registerWebhook(app.Telegram, cfg.HookURL(app.Token), cfg.WebhookSecret); err != nil {
			return err
		}
	}

	hookPath := cfg.HookPath(app.Token)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      withLogging(webhook.NewHandler(app.Dispatcher, hookPath, cfg.WebhookSecret), hookPath),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go app.Groups.RunSweeper(ctx, cfg.SweepInterval, app.Dispatcher.NotifyEvicted)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Server shutdown incomplete")
		}
	}()

	app.StartupLogger("polybot", initStart).
		CommitHash(commitHash).
		Config("addr", cfg.Addr).
		Feature("registerWebhook", cfg.Register).
		Log()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// registerWebhook replaces any previous registration with url.
func registerWebhook(tg *telegram.Client, url, secret string) error {
	if err := tg.DeleteWebhook(false); err != nil {
		return err
	}
	return tg.SetWebhook(url, secret)
}

// --- Middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs every request. The webhook path embeds the bot token
// by default, so it is never logged verbatim.
func withLogging(next http.Handler, hookPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if path == hookPath {
			path = "<webhook>"
		}
		log.Debug().
			Str("method", r.Method).
			Str("path", path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
