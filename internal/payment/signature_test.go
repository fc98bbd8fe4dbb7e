package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Unix(1_700_000_000, 0)

	header := SignPayload(body, secret, now)
	assert.NoError(t, VerifySignature(body, header, secret, now))

	// Skew inside the tolerance window is fine.
	assert.NoError(t, VerifySignature(body, header, secret, now.Add(299*time.Second)))
	assert.NoError(t, VerifySignature(body, header, secret, now.Add(-299*time.Second)))
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Unix(1_700_000_000, 0)

	// Valid HMAC, but signed too long ago: replay, rejected.
	header := SignPayload(body, secret, now)
	err := VerifySignature(body, header, secret, now.Add(301*time.Second))
	assert.ErrorIs(t, err, ErrTimestampOutOfBounds)

	err = VerifySignature(body, header, secret, now.Add(-301*time.Second))
	assert.ErrorIs(t, err, ErrTimestampOutOfBounds)
}

func TestVerifySignatureMismatch(t *testing.T) {
	secret := "whsec_test"
	now := time.Unix(1_700_000_000, 0)

	header := SignPayload([]byte("original"), secret, now)
	err := VerifySignature([]byte("tampered"), header, secret, now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	header = SignPayload([]byte("body"), "other_secret", now)
	err = VerifySignature([]byte("body"), header, secret, now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifySignatureHeaderProblems(t *testing.T) {
	body := []byte("body")
	now := time.Unix(1_700_000_000, 0)

	assert.ErrorIs(t, VerifySignature(body, "", "whsec_test", now), ErrMissingSignature)
	assert.ErrorIs(t, VerifySignature(body, "v1=abc", "whsec_test", now), ErrMalformedSignature)
	assert.ErrorIs(t, VerifySignature(body, "t=notanumber,v1=abc", "whsec_test", now), ErrMalformedSignature)
	assert.ErrorIs(t, VerifySignature(body, "t=1,v1=abc", "", now), ErrMisconfiguredSecret)
}

func TestVerifySignatureIgnoresExtraPairs(t *testing.T) {
	body := []byte("body")
	secret := "whsec_test"
	now := time.Unix(1_700_000_000, 0)

	header := SignPayload(body, secret, now) + ",v0=deadbeef"
	assert.NoError(t, VerifySignature(body, header, secret, now))
}
