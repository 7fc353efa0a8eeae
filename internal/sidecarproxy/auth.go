package sidecarproxy

import (
	"net/http"
	"strings"

	"github.com/infrapass/infrapass/internal/config"
)

// AuthMiddleware implements step 2 of the hot path: optional client
// authentication wrapping header extraction. None passes through
// unconditionally; ApiKey and BearerToken compare against the configured
// shared secret.
func AuthMiddleware(s *State) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch s.Cfg.AuthMode {
			case config.AuthNone:
				next.ServeHTTP(w, r)

			case config.AuthAPIKey:
				if r.Header.Get("X-Api-Key") != s.Cfg.AuthSecret {
					writeDenial(w, http.StatusUnauthorized, "invalid_api_key")
					return
				}
				next.ServeHTTP(w, r)

			case config.AuthBearerToken:
				auth := r.Header.Get("Authorization")
				token := strings.TrimPrefix(auth, "Bearer ")
				if token == "" || token == auth || token != s.Cfg.AuthSecret {
					writeDenial(w, http.StatusUnauthorized, "invalid_bearer_token")
					return
				}
				next.ServeHTTP(w, r)

			default:
				writeDenial(w, http.StatusUnauthorized, "invalid_auth_mode")
			}
		})
	}
}
