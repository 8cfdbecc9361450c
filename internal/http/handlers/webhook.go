package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/messaging"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

const maxWebhookBody = 1 << 20

type webhookIngester interface {
	Ingest(ctx context.Context, body []byte) (*messaging.IngestResult, error)
}

// WebhookHandler serves the public WhatsApp webhook.
type WebhookHandler struct {
	ingester    webhookIngester
	verifyToken string
	appSecret   string
	errors      *ErrorWriter
	logger      *logging.Logger
}

type WebhookConfig struct {
	Ingester    webhookIngester
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 checks when set.
	AppSecret string
	Errors    *ErrorWriter
	Logger    *logging.Logger
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Ingester == nil {
		panic("handlers: webhook ingester cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Errors == nil {
		cfg.Errors = NewErrorWriter(cfg.Logger, false)
	}
	return &WebhookHandler{
		ingester:    cfg.Ingester,
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		errors:      cfg.Errors,
		logger:      cfg.Logger,
	}
}

// Verify answers the subscription handshake. Meta sends hub.* parameters;
// the bare names are accepted too.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := firstParam(q.Get("hub.mode"), q.Get("mode"))
	token := firstParam(q.Get("hub.verify_token"), q.Get("verify_token"))
	challenge := firstParam(q.Get("hub.challenge"), q.Get("challenge"))

	out, err := whatsapp.VerifySubscription(mode, token, challenge, h.verifyToken)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

// Receive ingests one webhook delivery.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.errors.WriteError(w, r, apperrors.Validation("failed to read webhook body"))
		return
	}
	if h.appSecret != "" && !whatsapp.VerifySignature(h.appSecret, body, r.Header.Get(whatsapp.SignatureHeader)) {
		h.errors.WriteError(w, r, apperrors.Unauthorized("invalid webhook signature"))
		return
	}

	result, err := h.ingester.Ingest(r.Context(), body)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	h.logger.Debug("webhook processed",
		"messages", len(result.Messages),
		"statuses", result.StatusesApplied,
		"skipped", result.Skipped,
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func firstParam(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
