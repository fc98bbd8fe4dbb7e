package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"taskline/backend/internal/line"
	"taskline/backend/internal/payment"
	"taskline/backend/internal/store"
)

const maxWebhookBody = 1 << 20 // 1 MiB

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	counts, err := s.store.Counts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ng", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"time":        time.Now().UTC().Format(time.RFC3339Nano),
		"users_count": counts.Users,
		"tasks_count": counts.Tasks,
	})
}

func (s *Server) handleLineWebhook(w http.ResponseWriter, r *http.Request) {
	// The platform probes with GET during webhook setup.
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "failed to read body")
		return
	}

	if err := line.VerifyWebhookSignature(body, r.Header.Get("X-Line-Signature"), s.cfg.LineChannelSecret); err != nil {
		if errors.Is(err, line.ErrMisconfiguredSecret) {
			writeError(w, http.StatusInternalServerError, "secret_unconfigured", "LINE_CHANNEL_SECRET is not set")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_signature", err.Error())
		return
	}

	var req line.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	handled := s.dispatcher.HandleEvents(r.Context(), req.Events)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "received": handled})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "failed to read body")
		return
	}

	result, err := s.reconciler.Process(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMisconfiguredSecret):
			// Operator problem, not a forged request.
			writeError(w, http.StatusInternalServerError, "secret_unconfigured", "STRIPE_WEBHOOK_SECRET is not set")
		case errors.Is(err, payment.ErrMissingSignature),
			errors.Is(err, payment.ErrMalformedSignature),
			errors.Is(err, payment.ErrTimestampOutOfBounds),
			errors.Is(err, payment.ErrSignatureMismatch):
			writeError(w, http.StatusBadRequest, "invalid_signature", err.Error())
		case errors.Is(err, payment.ErrBadPayload):
			writeError(w, http.StatusBadRequest, "bad_json", "invalid event payload")
		default:
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRerunClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req store.ClaimRerunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if req.LockedBy == "" {
		writeError(w, http.StatusBadRequest, "locked_by_required", "locked_by is required")
		return
	}

	claimed, err := s.store.ClaimRerun(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": claimed})
}

func (s *Server) handleRerunComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req store.CompleteRerunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "request_id_required", "request_id is required")
		return
	}

	done, err := s.store.CompleteRerun(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": done})
}
