package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"taskline/backend/internal/store"
)

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, msg string) {
	var res errorResponse
	res.Error.Code = code
	res.Error.Message = msg
	writeJSON(w, status, res)
}

// writeStoreError maps store sentinels to HTTP responses. Anything
// unmapped is an internal error.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "status does not allow this transition")
	case errors.Is(err, store.ErrActiveRecord):
		writeError(w, http.StatusConflict, "active_record_protected", "active records cannot be deleted")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "conflicting record exists")
	case errors.Is(err, store.ErrNoQueuedRequests):
		writeError(w, http.StatusNotFound, "no_queued_requests", "no queued requests")
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
