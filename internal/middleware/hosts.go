// Package middleware holds small, composable HTTP wrappers.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// AllowedHosts rejects requests whose Host header matches none of the
// patterns with 400 Bad Request.  Matching ignores case and port.  A
// pattern starting with "." matches the domain and every subdomain, and
// "*" matches anything.
func AllowedHosts(patterns []string, log *zap.Logger) func(http.Handler) http.Handler {
	norm := make([]string, 0, len(patterns))
	for _, p := range patterns {
		norm = append(norm, strings.ToLower(strings.TrimSpace(p)))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := stripPort(r.Host)
			if !hostAllowed(host, norm) {
				log.Warn("disallowed host", zap.String("host", r.Host))
				http.Error(w, "Bad Request (400)", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostAllowed(host string, patterns []string) bool {
	if host == "" {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, p := range patterns {
		switch {
		case p == "*":
			return true
		case strings.HasPrefix(p, "."):
			if host == p[1:] || strings.HasSuffix(host, p) {
				return true
			}
		default:
			if host == p {
				return true
			}
		}
	}
	return false
}

// stripPort removes the :port suffix from Host when present.  IPv6
// literals keep their brackets, matching the "[::1]" pattern form.
func stripPort(h string) string {
	if hp, _, err := net.SplitHostPort(h); err == nil {
		if strings.Contains(hp, ":") {
			return "[" + hp + "]"
		}
		return hp
	}
	return h
}
