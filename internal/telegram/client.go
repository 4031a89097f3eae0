// Package telegram is the Telegram Bot API transport: it sends replies,
// downloads user photos, manages the webhook registration and decodes
// inbound updates into chat events.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/polybot/internal/event"
)

const (
	// maxPhotoSize matches the Bot API download limit.
	maxPhotoSize = 20 << 20

	// SecretTokenHeader carries the secret registered with setWebhook.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// Client sends and fetches through the Bot API.
type Client struct {
	bot          *tgbotapi.BotAPI
	httpClient   *http.Client
	fileEndpoint string
}

// NewClient connects to the public Bot API. It calls getMe, so an invalid
// token fails here.
func NewClient(token string) (*Client, error) {
	return NewClientWithEndpoint(token, tgbotapi.APIEndpoint, tgbotapi.FileEndpoint, http.DefaultClient)
}

// NewClientWithEndpoint connects to a Bot API server at apiEndpoint, a
// format string taking the token and the method name. fileEndpoint takes
// the token and the file path.
func NewClientWithEndpoint(token, apiEndpoint, fileEndpoint string, httpClient *http.Client) (*Client, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Info().Str("username", bot.Self.UserName).Int64("botId", bot.Self.ID).Msg("Telegram bot authorized")
	return &Client{bot: bot, httpClient: httpClient, fileEndpoint: fileEndpoint}, nil
}

// Username returns the bot's @username without the @.
func (c *Client) Username() string { return c.bot.Self.UserName }

// SendText sends a plain text message.
func (c *Client) SendText(_ context.Context, chatID int64, text string) error {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("sendMessage chat=%d: %w", chatID, err)
	}
	return nil
}

// SendTextWithQuote sends text as a reply to the message quotedID.
func (c *Client) SendTextWithQuote(_ context.Context, chatID int64, quotedID int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = quotedID
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("sendMessage chat=%d reply_to=%d: %w", chatID, quotedID, err)
	}
	return nil
}

// SendPhoto uploads the local image at imagePath with an optional caption.
func (c *Client) SendPhoto(_ context.Context, chatID int64, imagePath, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(imagePath))
	photo.Caption = caption
	if _, err := c.bot.Send(photo); err != nil {
		return fmt.Errorf("sendPhoto chat=%d: %w", chatID, err)
	}
	return nil
}

// DownloadPhoto resolves fileRef with getFile and downloads the bytes.
func (c *Client) DownloadPhoto(ctx context.Context, fileRef string) (event.Photo, error) {
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileRef})
	if err != nil {
		return event.Photo{}, fmt.Errorf("getFile %s: %w", fileRef, err)
	}
	if file.FilePath == "" {
		return event.Photo{}, fmt.Errorf("getFile %s: empty file path", fileRef)
	}

	url := fmt.Sprintf(c.fileEndpoint, c.bot.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return event.Photo{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return event.Photo{}, fmt.Errorf("download %s: %w", file.FilePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return event.Photo{}, fmt.Errorf("download %s: status %d", file.FilePath, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize))
	if err != nil {
		return event.Photo{}, fmt.Errorf("download %s: %w", file.FilePath, err)
	}

	log.Debug().Str("filePath", file.FilePath).Int("bytes", len(data)).Msg("Photo downloaded")
	return event.Photo{Data: data, Name: path.Base(file.FilePath)}, nil
}

// SetWebhook registers url as the update endpoint. A non-empty secret is
// echoed by Telegram in SecretTokenHeader on every delivery.
func (c *Client) SetWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if _, err := c.bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	log.Info().Bool("secretToken", secret != "").Msg("Webhook registered")
	return nil
}

// DeleteWebhook removes the webhook registration.
func (c *Client) DeleteWebhook(dropPending bool) error {
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending}); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	log.Info().Bool("dropPending", dropPending).Msg("Webhook removed")
	return nil
}

// WebhookInfo returns the current webhook registration.
func (c *Client) WebhookInfo() (tgbotapi.WebhookInfo, error) {
	info, err := c.bot.GetWebhookInfo()
	if err != nil {
		return tgbotapi.WebhookInfo{}, fmt.Errorf("getWebhookInfo: %w", err)
	}
	return info, nil
}
