package api

import (
	"net/http"

	"github.com/rs/zerolog"
)

// commonMiddleware logs each request and applies the permissive CORS policy.
// Overlays are loaded from arbitrary local-network origins, so any origin is
// allowed. OPTIONS preflights are answered here and never reach a handler.
func commonMiddleware(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug().Str("remote", r.RemoteAddr).Str("method", r.Method).Str("path", r.URL.Path).Msg("request")

			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
