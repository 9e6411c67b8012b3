package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/api/state", s.handleState)
	r.Post("/api/scan", s.handleScan)
	r.Post("/api/scan/batch", s.handleScanBatch)
	r.Post("/api/transaction/submit", s.handleTransactionSubmit)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Delete("/api/transaction/{id}", s.handleTransactionDelete)
		r.Post("/api/video/control", s.handleVideoControl)
		r.Post("/api/admin/reset", s.handleAdminReset)
	})
}

// requireAdmin gates the admin-only routes behind the configured admin
// password, sent as the X-Admin-Password header — the HTTP surface is
// contract-only (spec.md §6), so this is the one concrete mechanism
// exercising internal/config's VerifyAdminPassword outside the console
// handshake.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.cfg.VerifyAdminPassword(r.Header.Get("X-Admin-Password"))
		if err != nil || !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin authorization required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
