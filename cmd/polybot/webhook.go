package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/polybot/internal/config"
	"github.com/fpang/polybot/internal/lambdaboot"
	"github.com/fpang/polybot/internal/telegram"
)

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}
	cmd.AddCommand(newWebhookSetCmd())
	cmd.AddCommand(newWebhookDeleteCmd())
	cmd.AddCommand(newWebhookInfoCmd())
	return cmd
}

func newWebhookSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Register <app-url>/<webhook path>/ as the update endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Resolve(v)
			if cfg.AppURL == "" {
				return fmt.Errorf("%s is required", config.KeyAppURL)
			}
			tg, token, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := registerWebhook(tg, cfg.HookURL(token), cfg.WebhookSecret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook set to %s\n", redact(cfg.HookURL(token), token))
			return nil
		},
	}
	cmd.Flags().String("app-url", "", "Public base URL of the server (TELEGRAM_APP_URL)")
	cmd.PreRunE = bindFlags(map[string]string{"app-url": config.KeyAppURL})
	return cmd
}

func newWebhookDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			dropPending, _ := cmd.Flags().GetBool("drop-pending")
			tg, _, err := connect(cmd.Context(), config.Resolve(v))
			if err != nil {
				return err
			}
			if err := tg.DeleteWebhook(dropPending); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Webhook deleted")
			return nil
		},
	}
	cmd.Flags().Bool("drop-pending", false, "Drop updates Telegram has queued")
	return cmd
}

func newWebhookInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, token, err := connect(cmd.Context(), config.Resolve(v))
			if err != nil {
				return err
			}
			info, err := tg.WebhookInfo()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			url := redact(info.URL, token)
			if url == "" {
				url = "(none)"
			}
			fmt.Fprintf(out, "Bot:             @%s\n", tg.Username())
			fmt.Fprintf(out, "URL:             %s\n", url)
			fmt.Fprintf(out, "Pending updates: %d\n", info.PendingUpdateCount)
			if info.LastErrorMessage != "" {
				fmt.Fprintf(out, "Last error:      %s\n", info.LastErrorMessage)
			}
			return nil
		},
	}
}

// connect resolves the token through the same sources as the server.
func connect(ctx context.Context, cfg config.Config) (*telegram.Client, string, error) {
	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		return nil, "", err
	}
	return lambdaboot.Connect(ctx, cfg, clients.SSM)
}

// redact hides the bot token in URLs printed to the terminal.
func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<token>")
}
