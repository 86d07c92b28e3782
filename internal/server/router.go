// internal/server/router.go
//
// Route table and middleware chain.
//
/*
Context
--------
Every request passes, in order:

  1. Recoverer          panics become 500 and a logged stack
  2. AllowedHosts       Host header against ALLOWED_HOSTS
  3. requestinfo.Enrich client address, proxy trust, network class, UA
  4. Security           response security headers
  5. CSRF               token cookie on safe methods, double-submit check
                        on unsafe ones (POST /oidc/logout/ among them)
  6. auth.LoadUser      session user on the context
  7. SessionRefresh     only when OIDC is enabled

Routes

  GET /                  who-am-i summary for the current client
  GET /me                signed-in user; 401 otherwise
  GET /healthz           liveness plus a database ping
  GET /metrics           Prometheus exposition; permitted networks and
                         INTERNAL_IPS only
  GET /debug/settings    redacted settings dump; debug mode and
                         INTERNAL_IPS only
  GET STATIC_URL*        files under STATIC_ROOT, when set
  /oidc/...              relying-party routes, when OIDC is enabled
*/
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zamhaus/doorcommander/internal/acl"
	"github.com/zamhaus/doorcommander/internal/auth"
	"github.com/zamhaus/doorcommander/internal/config"
	"github.com/zamhaus/doorcommander/internal/form"
	"github.com/zamhaus/doorcommander/internal/middleware"
	"github.com/zamhaus/doorcommander/internal/requestinfo"
	"github.com/zamhaus/doorcommander/internal/session"
)

// Deps is everything the router needs.  DB may be nil in tests.
type Deps struct {
	Settings *config.Settings
	DB       *sqlx.DB
	Sessions *session.Manager
	CSRF     *form.Protector
	Log      *zap.Logger
}

// NewRouter builds the application handler.
func NewRouter(d Deps) http.Handler {
	s := d.Settings
	log := d.Log.Named("http")

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.AllowedHosts(s.HTTP.AllowedHosts, log))
	r.Use(requestinfo.Enrich(s, log))
	r.Use(middleware.Security)
	r.Use(d.CSRF.Protect)
	r.Use(auth.LoadUser(d.Sessions))

	if cfg, ok := s.OIDC.Get(); ok {
		o := auth.NewOIDC(cfg, d.Sessions, s.HTTP.LoginRedirectURL, s.HTTP.LogoutRedirectURL, log)
		r.Use(o.SessionRefresh)
		o.Mount(r)
	}

	r.Get("/", whoAmI(s))
	r.With(acl.RequireUser).Get("/me", me)
	r.Get("/healthz", healthz(d.DB, log))
	r.With(acl.RequireNetwork(log)).Handle("/metrics", promhttp.Handler())

	if s.Debug {
		r.With(acl.RequireInternal).Get("/debug/settings", debugSettings(s))
	}

	if s.HTTP.StaticRoot != "" {
		fs := http.StripPrefix(s.HTTP.StaticURL, http.FileServer(http.Dir(s.HTTP.StaticRoot)))
		r.Handle(s.HTTP.StaticURL+"*", fs)
	}

	return r
}
