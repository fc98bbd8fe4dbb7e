package httpapi

import (
	"net/http"

	"taskline/backend/internal/config"
	"taskline/backend/internal/line"
	"taskline/backend/internal/payment"
	"taskline/backend/internal/rerun"
	"taskline/backend/internal/store"
)

type Server struct {
	cfg        config.Config
	store      store.Store
	queue      *rerun.Queue
	dispatcher *line.Dispatcher
	reconciler *payment.Reconciler
	mux        *http.ServeMux
}

func NewServer(cfg config.Config, st store.Store, q *rerun.Queue, d *line.Dispatcher, r *payment.Reconciler) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		queue:      q,
		dispatcher: d,
		reconciler: r,
		mux:        http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoverMiddleware(h)
	h = requestIDMiddleware(h)
	h = loggingMiddleware(h)
	h = authMiddleware(s.cfg, h)
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	// Provider webhooks carry their own signatures; auth middleware
	// lets them through.
	s.mux.HandleFunc("/line/webhook", s.handleLineWebhook)
	s.mux.HandleFunc("/stripe/webhook", s.handleStripeWebhook)

	// Runner surface (bearer token).
	s.mux.HandleFunc("/v1/rerun/claim", s.handleRerunClaim)
	s.mux.HandleFunc("/v1/rerun/complete", s.handleRerunComplete)

	// Admin surface (basic auth).
	s.mux.HandleFunc("/admin/users", s.handleAdminUsers)
	s.mux.HandleFunc("/admin/users/{id}/tasks", s.handleAdminUserTasks)
	s.mux.HandleFunc("/admin/tasks/{id}/toggle", s.handleAdminTaskToggle)
	s.mux.HandleFunc("/admin/tasks/{id}", s.handleAdminTask)
	s.mux.HandleFunc("/admin/rerun", s.handleAdminRerunList)
	s.mux.HandleFunc("/admin/rerun/{id}/cancel", s.handleAdminRerunCancel)
	s.mux.HandleFunc("/admin/rerun/{id}", s.handleAdminRerun)
}
