package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// OriginAllowed reports whether a request carrying origin may use the
// bridge. Requests without an Origin header come from native clients and
// are allowed; "*" in allowed admits every origin.
func OriginAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// CheckOrigin refuses browser requests from origins outside allowed before
// they reach a handler. CORS headers alone do not stop simple requests.
func CheckOrigin(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !OriginAllowed(allowed, origin) {
				log.Warn().Str("origin", origin).Str("path", r.URL.Path).Msg("bridge: foreign origin refused")
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
