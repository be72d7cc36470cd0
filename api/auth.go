package api

import (
	"crypto/subtle"
	"net/http"
)

// AdminTokenHeader carries the shared admin token on mutating requests
const AdminTokenHeader = "X-Admin-Token"

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if token == "" || h.opts.AdminToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
