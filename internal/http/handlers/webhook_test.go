package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/messaging"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

const webhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "WABA_1", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "metadata": {"display_phone_number": "15550000000", "phone_number_id": "PNID_1"},
    "contacts": [{"profile": {"name": "Ana"}, "wa_id": "5215550001"}],
    "messages": [{"from": "5215550001", "id": "wamid.A", "timestamp": "1718000000", "type": "text", "text": {"body": "hola"}}]
  }}]}]
}`

type stubIngester struct {
	bodies [][]byte
	err    error
}

func (s *stubIngester) Ingest(_ context.Context, body []byte) (*messaging.IngestResult, error) {
	s.bodies = append(s.bodies, body)
	if s.err != nil {
		return nil, s.err
	}
	return &messaging.IngestResult{}, nil
}

type noMedia struct{}

func (noMedia) GetMediaInfo(context.Context, string) (*whatsapp.MediaInfo, error) {
	return nil, errors.New("no media in this test")
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestWebhookHandler(ingester webhookIngester, secret string) *WebhookHandler {
	return NewWebhookHandler(WebhookConfig{
		Ingester:    ingester,
		VerifyToken: "verify-me",
		AppSecret:   secret,
		Logger:      logging.Discard(),
		Errors:      NewErrorWriter(logging.Discard(), false),
	})
}

func TestWebhookVerify(t *testing.T) {
	h := newTestWebhookHandler(&stubIngester{}, "")

	cases := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"hub params", "?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=XYZ", http.StatusOK, "XYZ"},
		{"bare params", "?mode=subscribe&verify_token=verify-me&challenge=XYZ", http.StatusOK, "XYZ"},
		{"wrong token", "?mode=subscribe&verify_token=nope&challenge=XYZ", http.StatusForbidden, ""},
		{"wrong mode", "?mode=unsubscribe&verify_token=verify-me&challenge=XYZ", http.StatusForbidden, ""},
		{"missing mode", "?verify_token=verify-me&challenge=XYZ", http.StatusBadRequest, ""},
		{"missing token", "?mode=subscribe&challenge=XYZ", http.StatusBadRequest, ""},
		{"missing challenge", "?mode=subscribe&verify_token=verify-me", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Verify(rec, httptest.NewRequest(http.MethodGet, "/webhook"+tc.query, nil))
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestWebhookReceiveStoresMessages(t *testing.T) {
	store := conversation.NewMemoryStore()
	pipeline := messaging.NewPipeline(messaging.PipelineConfig{Store: store, Media: noMedia{}, Logger: logging.Discard()})
	h := newTestWebhookHandler(pipeline, "")

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(webhookBody)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	msg, err := store.FindMessageByExternalID(context.Background(), "wamid.A")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, conversation.MessageStatusReceived, msg.Status)
}

func TestWebhookReceiveChecksSignatureWhenConfigured(t *testing.T) {
	ingester := &stubIngester{}
	h := newTestWebhookHandler(ingester, "app-secret")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(webhookBody))
	req.Header.Set(whatsapp.SignatureHeader, sign("other", []byte(webhookBody)))
	h.Receive(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ingester.bodies)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(webhookBody))
	req.Header.Set(whatsapp.SignatureHeader, sign("app-secret", []byte(webhookBody)))
	h.Receive(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ingester.bodies, 1)
}

func TestWebhookReceivePropagatesIngestErrors(t *testing.T) {
	h := newTestWebhookHandler(&stubIngester{err: apperrors.Storage("insert message", errors.New("pg down"))}, "")

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(webhookBody)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	h = newTestWebhookHandler(&stubIngester{err: apperrors.Validation("webhook envelope has no entry")}, "")
	rec = httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
