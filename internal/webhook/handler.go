// Package webhook provides the HTTP handler Telegram delivers updates to.
//
// Health check (GET /):
//
//	Answers "Ok" so load balancers and uptime checks can probe the bot.
//
// Update delivery (POST <path>):
//
//	Telegram posts one JSON Update per request. When a secret token was
//	registered with setWebhook, Telegram echoes it in the
//	X-Telegram-Bot-Api-Secret-Token header and the handler rejects requests
//	without it. Every authenticated, parseable update is answered with 200,
//	even when processing failed, so Telegram does not redeliver it.
//
// Reference: https://core.telegram.org/bots/api#setwebhook
package webhook

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/polybot/internal/event"
	"github.com/fpang/polybot/internal/telegram"
)

// maxBodySize is the maximum allowed request body size (1 MB). An update
// references photos by file id, so bodies stay small.
const maxBodySize = 1 << 20 // 1 MB

// Dispatcher handles one decoded chat event.
type Dispatcher interface {
	Handle(ctx context.Context, ev event.Event) error
}

// Handler serves the health check and the update endpoint.
type Handler struct {
	dispatcher Dispatcher
	path       string
	secret     string
}

// NewHandler creates a webhook handler.
//
// path is the URL path registered with setWebhook, e.g. "/<token>/".
//
// secret is the secret_token registered with setWebhook. An empty secret
// disables the header check.
func NewHandler(dispatcher Dispatcher, path, secret string) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		path:       path,
		secret:     secret,
	}
}

// ServeHTTP dispatches to the health check (GET /) or update handling
// (POST on the webhook path).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		h.handleHealth(w)
	case r.URL.Path == h.path:
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleUpdate(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok"))
}

// handleUpdate authenticates, decodes and dispatches one update.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.verifySecret(r.Header.Get(telegram.SecretTokenHeader)) {
		log.Warn().Str("remoteAddr", r.RemoteAddr).Msg("Webhook update: invalid secret token")
		http.Error(w, "invalid secret token", http.StatusForbidden)
		return
	}

	// Read body with size limit.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Webhook update: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body) == 0 {
		log.Warn().Msg("Webhook update: empty body")
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		log.Warn().Int("bodySize", len(body)).Msg("Webhook update: body is not JSON")
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ev, err := telegram.DecodeUpdate(body)
	switch {
	case errors.Is(err, event.ErrMalformed):
		log.Warn().Err(err).RawJSON("payload", body).Msg("Webhook update: malformed message ignored")
	case err != nil:
		log.Error().Err(err).Msg("Webhook update: decode failed")
	case ev == nil:
		log.Debug().Msg("Webhook update: nothing to handle")
	default:
		if err := h.dispatcher.Handle(r.Context(), ev); err != nil {
			log.Error().Err(err).Int64("chatId", ev.Chat()).Msg("Webhook update: reply failed")
		}
	}

	h.handleHealth(w)
}

// verifySecret compares the header against the registered secret using
// hmac.Equal for constant-time comparison.
func (h *Handler) verifySecret(header string) bool {
	if h.secret == "" {
		return true
	}
	return hmac.Equal([]byte(header), []byte(h.secret))
}
