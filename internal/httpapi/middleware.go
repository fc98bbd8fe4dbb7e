package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskline/backend/internal/config"
)

const requestIDHeader = "X-Request-Id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(requestIDHeader) == "" {
			var b [12]byte
			_, _ = rand.Read(b[:])
			r.Header.Set(requestIDHeader, hex.EncodeToString(b[:]))
		}
		w.Header().Set(requestIDHeader, r.Header.Get(requestIDHeader))
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s in %s", r.Method, r.URL.Path, r.Header.Get(requestIDHeader), time.Since(start).String())
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeError(w, http.StatusInternalServerError, "panic", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware guards the admin surface with HTTP Basic and the
// runner surface with a bearer token. Webhook endpoints authenticate
// themselves through provider signatures and pass straight through.
func authMiddleware(cfg config.Config, next http.Handler) http.Handler {
	runnerToken := strings.TrimSpace(cfg.RunnerAuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/admin/"):
			if err := checkBasicAuth(cfg, r); err != "" {
				if err == "misconfigured" {
					writeError(w, http.StatusInternalServerError, "admin_auth_unconfigured", "ADMIN_USERNAME / ADMIN_PASSWORD are not set")
					return
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
				return
			}

		case strings.HasPrefix(r.URL.Path, "/v1/"):
			auth := r.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if runnerToken == "" || token == "" ||
				subtle.ConstantTimeCompare([]byte(token), []byte(runnerToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid runner token")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkBasicAuth returns "" on success, "misconfigured" when no admin
// credentials are set, "denied" otherwise. Comparisons are constant
// time; a bcrypt hash takes precedence over the plain password.
func checkBasicAuth(cfg config.Config, r *http.Request) string {
	if cfg.AdminUsername == "" || (cfg.AdminPassword == "" && cfg.AdminPasswordHash == "") {
		return "misconfigured"
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return "denied"
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.AdminUsername)) == 1

	var passOK bool
	if cfg.AdminPasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(cfg.AdminPasswordHash), []byte(pass)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.AdminPassword)) == 1
	}

	if !userOK || !passOK {
		return "denied"
	}
	return ""
}
