package middleware

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
)

// AuthConfig holds the accepted keys. AdminKey may do anything; ReadOnlyKey
// is limited to GET and HEAD, so it cannot trigger passes. Public paths skip
// authentication. An empty AdminKey disables the middleware.
type AuthConfig struct {
	AdminKey    string
	ReadOnlyKey string
	Public      []string
}

// Auth validates a Bearer token or X-API-Key header. WebSocket upgrades may
// pass the key as ?api_key= because browsers cannot set headers on them.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminKey == "" || slices.Contains(cfg.Public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			switch {
			case token == "":
				writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
			case keyMatches(token, cfg.AdminKey):
				next.ServeHTTP(w, r)
			case keyMatches(token, cfg.ReadOnlyKey):
				if r.Method != http.MethodGet && r.Method != http.MethodHead {
					writeJSONError(w, http.StatusForbidden, "read-only key cannot "+r.Method)
					return
				}
				next.ServeHTTP(w, r)
			default:
				writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
			}
		})
	}
}

func keyMatches(token, key string) bool {
	return key != "" && subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1
}

func extractToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
