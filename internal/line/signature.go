package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrMisconfiguredSecret = errors.New("channel secret is not configured")
	ErrMissingSignature    = errors.New("missing X-Line-Signature header")
	ErrSignatureMismatch   = errors.New("webhook signature mismatch")
)

// VerifyWebhookSignature checks the X-Line-Signature header: base64 of
// HMAC-SHA256 over the raw body keyed by the channel secret.
func VerifyWebhookSignature(rawBody []byte, header, channelSecret string) error {
	if strings.TrimSpace(channelSecret) == "" {
		return ErrMisconfiguredSecret
	}
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(header)) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignWebhookBody produces a valid X-Line-Signature value for rawBody.
// Used by tests.
func SignWebhookBody(rawBody []byte, channelSecret string) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
