package telegram

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/roomrelay/internal/bot"
)

const pollTimeoutSeconds = 60

// SecretTokenHeader carries the secret registered with setWebhook on every push.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Sink accepts converted events; bot.Runner implements it.
type Sink interface {
	Submit(ctx context.Context, ev bot.Event)
}

// updateSource is the long-polling half of *tgbotapi.BotAPI.
type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poll feeds updates from long polling into sink until ctx is done. Events keep
// running after ctx is cancelled so in-flight work can finish during shutdown.
func Poll(ctx context.Context, src updateSource, sink Sink) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSeconds
	updates := src.GetUpdatesChan(cfg)

	eventCtx := context.WithoutCancel(ctx)
	slog.Info("Polling for updates", "timeout_seconds", pollTimeoutSeconds)

	for {
		select {
		case <-ctx.Done():
			src.StopReceivingUpdates()
			slog.Info("Update polling stopped", "reason", ctx.Err())
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if ev, ok := ToEvent(u); ok {
				sink.Submit(eventCtx, ev)
			}
		}
	}
}

// updateDecoder parses a webhook request; *tgbotapi.BotAPI implements it.
type updateDecoder interface {
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// WebhookHandler accepts updates pushed by Telegram. Requests without the
// registered secret token are rejected before the body is read.
type WebhookHandler struct {
	decoder updateDecoder
	sink    Sink
	secret  []byte
}

// NewWebhookHandler creates a webhook endpoint feeding sink. secret must match
// the token passed to RegisterWebhook.
func NewWebhookHandler(decoder updateDecoder, sink Sink, secret string) *WebhookHandler {
	return &WebhookHandler{decoder: decoder, sink: sink, secret: []byte(secret)}
}

// ServeHTTP acknowledges every well-formed update immediately; processing is async.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		slog.Warn("Rejected webhook request without a valid secret token", "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	u, err := h.decoder.HandleUpdate(r)
	if err != nil {
		slog.Warn("Rejected webhook update", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ev, ok := ToEvent(*u); ok {
		h.sink.Submit(context.WithoutCancel(r.Context()), ev)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return false
	}
	got := []byte(r.Header.Get(SecretTokenHeader))
	return subtle.ConstantTimeCompare(got, h.secret) == 1
}

// requester sends raw API requests.
type requester interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// webhookRegistrar issues raw API calls; *tgbotapi.BotAPI implements it. The
// library's WebhookConfig has no secret_token field, so setWebhook is sent by hand.
type webhookRegistrar interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// RegisterWebhook points Telegram at link and has it sign every push with secret.
func RegisterWebhook(api webhookRegistrar, link, secret string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if secret == "" {
		return fmt.Errorf("build webhook: secret token is required")
	}

	params := tgbotapi.Params{}
	params.AddNonEmpty("url", u.String())
	params.AddNonEmpty("secret_token", secret)
	if _, err := api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// RemoveWebhook switches the bot back to long polling.
func RemoveWebhook(api requester) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
