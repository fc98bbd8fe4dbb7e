package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tolerance bounds how far a signed timestamp may deviate from server
// time. A validly signed but stale payload is a replay and is rejected.
const Tolerance = 300 * time.Second

var (
	ErrMisconfiguredSecret  = errors.New("webhook secret is not configured")
	ErrMissingSignature     = errors.New("missing signature header")
	ErrMalformedSignature   = errors.New("malformed signature header")
	ErrTimestampOutOfBounds = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch    = errors.New("signature mismatch")
)

type signature struct {
	timestamp int64
	v1        string
}

// parseSignature reads a "t=<unix>,v1=<hex>" header. Other key=value
// pairs (v0 etc.) are ignored.
func parseSignature(header string) (signature, error) {
	parts := map[string]string{}
	for _, item := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		parts[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	ts, okT := parts["t"]
	v1, okV := parts["v1"]
	if !okT || !okV {
		return signature{}, ErrMalformedSignature
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return signature{}, fmt.Errorf("%w: bad timestamp", ErrMalformedSignature)
	}
	return signature{timestamp: n, v1: v1}, nil
}

// VerifySignature checks the provider HMAC over "{t}.{rawBody}". The
// digest comparison is constant time.
func VerifySignature(rawBody []byte, header, secret string, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return ErrMisconfiguredSecret
	}
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	sig, err := parseSignature(header)
	if err != nil {
		return err
	}

	diff := now.Unix() - sig.timestamp
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(Tolerance/time.Second) {
		return ErrTimestampOutOfBounds
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(sig.timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig.v1)) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignPayload produces a valid signature header for rawBody at the
// given instant. Used by tests and local tooling.
func SignPayload(rawBody []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
