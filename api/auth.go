package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// RequireToken rejects requests that do not carry the admin token as
// "Authorization: Bearer <token>". An empty token rejects everything,
// so an unconfigured server never exposes the admin surface.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeUnauthorized(w, "admin_disabled", "Admin access is disabled: no admin token configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "unauthorized", "Missing Authorization header")
				return
			}
			presented, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeUnauthorized(w, "unauthorized", "Invalid Authorization format, expected: Bearer <token>")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeUnauthorized(w, "unauthorized", "Invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="storeguard-admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message})
}
