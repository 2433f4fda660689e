package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tileserv/tileserv/internal/config"
)

// corsMiddleware applies cfg's allowed origins/methods/headers to every
// response, matching the manual CORS headers the teacher sets in its
// own tile-serving handler. A zero-value CORSConfig (no origins
// configured) disables it entirely.
func corsMiddleware(cfg config.CORSConfig, next http.Handler) http.Handler {
	if len(cfg.Origins) == 0 {
		return next
	}

	origins := make(map[string]bool, len(cfg.Origins))
	allowAll := false
	for _, o := range cfg.Origins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	methods := strings.Join(cfg.Methods, ", ")
	if methods == "" {
		methods = "GET, HEAD, OPTIONS"
	}
	headers := strings.Join(cfg.Headers, ", ")
	if headers == "" {
		headers = "Content-Type, If-None-Match, X-Rewrite-URL"
	}
	maxAge := strconv.Itoa(cfg.MaxAgeSeconds)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || origins[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if cfg.MaxAgeSeconds > 0 {
				w.Header().Set("Access-Control-Max-Age", maxAge)
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
