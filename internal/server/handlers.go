// internal/server/handlers.go
//
// Small built-in handlers.  The door UI and GraphQL API are served by
// their own packages; these exist for operators.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/zamhaus/doorcommander/internal/auth"
	"github.com/zamhaus/doorcommander/internal/config"
	"github.com/zamhaus/doorcommander/internal/form"
	"github.com/zamhaus/doorcommander/internal/requestinfo"
)

const pingTimeout = 2 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// whoAmI reports how the current request was classified.
func whoAmI(s *config.Settings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{"authenticated": false, "csrf_token": form.Token(r.Context())}
		if info := requestinfo.FromContext(r.Context()); info != nil {
			out["client_ip"] = info.ClientIP.String()
			out["via_proxy"] = info.ViaProxy
			out["permitted"] = info.Permitted
			out["secure"] = info.Secure
		}
		if u, ok := auth.CurrentUser(r.Context()); ok {
			out["authenticated"] = true
			out["user"] = u
		}
		if _, ok := s.OIDC.Get(); ok {
			out["login_url"] = auth.AuthenticatePath
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// healthz pings the database when there is one.
func healthz(db *sqlx.DB, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				log.Warn("health check: database unreachable", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// me returns the signed-in user.  Mounted behind acl.RequireUser.
func me(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r.Context())
	writeJSON(w, http.StatusOK, u)
}

// debugSettings dumps the settings with secrets redacted.  Mounted behind
// acl.RequireInternal.
func debugSettings(s *config.Settings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"settings": s,
			"features": s.Features(),
		}
		if info := requestinfo.FromContext(r.Context()); info != nil {
			out["request"] = map[string]any{
				"ip":        info.ClientIP.String(),
				"peer":      info.Peer.String(),
				"via_proxy": info.ViaProxy,
				"ua":        info.UA,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}
