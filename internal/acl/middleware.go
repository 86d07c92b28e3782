// internal/acl/middleware.go
//
// Chi middleware helpers that gate routes on who is asking.
//
// Network guards read the classification requestinfo.Enrich attached to
// the request, so they must run after it.  RequireUser reads the context
// user set by auth.LoadUser.

package acl

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/zamhaus/doorcommander/internal/auth"
	"github.com/zamhaus/doorcommander/internal/requestinfo"
)

// RequireInternal admits clients listed in INTERNAL_IPS.  Everyone else
// gets a 404 so the route does not advertise itself.
func RequireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := requestinfo.FromContext(r.Context())
		if info == nil || !info.Internal {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireNetwork admits clients inside PERMITTED_IP_NETWORKS or listed in
// INTERNAL_IPS.
func RequireNetwork(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := requestinfo.FromContext(r.Context())
			if info == nil || !(info.Permitted || info.Internal) {
				if info != nil {
					log.Debug("client outside permitted networks",
						zap.Stringer("ip", info.ClientIP), zap.String("path", r.URL.Path))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser admits signed-in users.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.CurrentUser(r.Context()); !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
