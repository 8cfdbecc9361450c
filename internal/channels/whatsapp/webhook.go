package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
)

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// ParseEnvelope decodes a webhook body. A body without an entry list is a
// validation failure.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.Validation("invalid webhook payload: %v", err)
	}
	if env.Entry == nil {
		return nil, apperrors.Validation("webhook payload has no entry list")
	}
	return &env, nil
}

// VerifySubscription checks the GET handshake and returns the challenge to
// echo back.
func VerifySubscription(mode, token, challenge, expectedToken string) (string, error) {
	if mode == "" || token == "" || challenge == "" {
		return "", apperrors.Validation("mode, verify_token and challenge are required")
	}
	if mode != "subscribe" || expectedToken == "" || !hmac.Equal([]byte(token), []byte(expectedToken)) {
		return "", apperrors.Forbidden("webhook verification failed")
	}
	return challenge, nil
}

// VerifySignature verifies the X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sigHex)))
}
