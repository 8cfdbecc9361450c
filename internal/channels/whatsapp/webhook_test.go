package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
)

const sampleEnvelope = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550000000", "phone_number_id": "1234567890"},
        "contacts": [{"profile": {"name": "Ana"}, "wa_id": "5215550001"}],
        "messages": [
          {"from": "5215550001", "id": "wamid.TXT", "timestamp": "1718000000", "type": "text", "text": {"body": "hola"},
           "context": {"from": "15550000000", "id": "wamid.PREV"}},
          {"from": "5215550001", "id": "wamid.IMG", "timestamp": "1718000001", "type": "image",
           "image": {"id": "media_1", "mime_type": "image/jpeg", "sha256": "abc", "caption": "look"}}
        ],
        "statuses": [{"id": "wamid.OUT", "status": "delivered", "timestamp": "1718000002", "recipient_id": "5215550001"}]
      }
    }]
  }]
}`

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(sampleEnvelope))
	require.NoError(t, err)
	require.Len(t, env.Entry, 1)
	value := env.Entry[0].Changes[0].Value
	assert.Equal(t, "1234567890", value.Metadata.PhoneNumberID)
	require.Len(t, value.Messages, 2)

	text := value.Messages[0]
	assert.Equal(t, "hola", text.Text.Body)
	assert.Equal(t, "wamid.PREV", text.Context.ID)
	assert.Equal(t, time.Unix(1718000000, 0).UTC(), text.Time())
	assert.Nil(t, text.Media())

	image := value.Messages[1]
	require.NotNil(t, image.Media())
	assert.Equal(t, "media_1", image.Media().ID)
	assert.Equal(t, "look", image.Media().Caption)

	require.Len(t, value.Statuses, 1)
	assert.Equal(t, "delivered", value.Statuses[0].Status)
}

func TestParseEnvelopeRejectsMissingEntry(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"object":"whatsapp_business_account"}`))
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = ParseEnvelope([]byte(`not json`))
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	env, err := ParseEnvelope([]byte(`{"entry":[]}`))
	require.NoError(t, err)
	assert.Empty(t, env.Entry)
}

func TestVerifySubscription(t *testing.T) {
	challenge, err := VerifySubscription("subscribe", "secret", "XYZ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "XYZ", challenge)

	_, err = VerifySubscription("subscribe", "wrong", "XYZ", "secret")
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	_, err = VerifySubscription("unsubscribe", "secret", "XYZ", "secret")
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	_, err = VerifySubscription("", "secret", "XYZ", "secret")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = VerifySubscription("subscribe", "", "XYZ", "secret")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = VerifySubscription("subscribe", "secret", "", "secret")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestVerifySignature(t *testing.T) {
	secret := "test_app_secret"
	body := []byte(sampleEnvelope)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	validSig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{"valid signature", secret, body, validSig, true},
		{"wrong signature", secret, body, "sha256=0000000000000000000000000000000000000000000000000000000000000000", false},
		{"empty signature", secret, body, "", false},
		{"empty secret", "", body, validSig, false},
		{"missing prefix", secret, body, "abcdef", false},
		{"tampered body", secret, []byte(`tampered`), validSig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.secret, tt.body, tt.signature))
		})
	}
}
