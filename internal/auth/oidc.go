// internal/auth/oidc.go
//
// OpenID Connect relying party.
//
/*
Context
--------
Mounted only when the OIDC settings group loaded.  Three routes:

  GET  /oidc/authenticate/   redirect to the provider with a fresh state
  GET  /oidc/callback/       verify state, exchange the code, fetch the
                             user endpoint, sign in
  GET  /oidc/logout/         clear the session, redirect to the provider's
  POST /oidc/logout/         end-session URL

SessionRefresh re-runs the flow with prompt=none once the stored ID token
is older than the renew interval, so revoked accounts drop out without a
visible login page for everyone else.

ID token signatures are not verified; the user endpoint, called with the
fresh access token, is the source of identity.
*/
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/zamhaus/doorcommander/internal/config"
	"github.com/zamhaus/doorcommander/internal/metrics"
	"github.com/zamhaus/doorcommander/internal/requestinfo"
	"github.com/zamhaus/doorcommander/internal/session"
)

const (
	AuthenticatePath = "/oidc/authenticate/"
	CallbackPath     = "/oidc/callback/"
	LogoutPath       = "/oidc/logout/"

	userInfoTimeout = 10 * time.Second
)

// OIDC serves the relying-party routes.
type OIDC struct {
	cfg      config.OIDC
	sessions *session.Manager
	log      *zap.Logger

	loginRedirect  string
	logoutRedirect string
	now            func() time.Time
}

// NewOIDC wires the handlers.  loginRedirect and logoutRedirect are the
// local targets after sign-in and sign-out.
func NewOIDC(cfg config.OIDC, m *session.Manager, loginRedirect, logoutRedirect string, log *zap.Logger) *OIDC {
	return &OIDC{
		cfg:            cfg,
		sessions:       m,
		log:            log.Named("oidc"),
		loginRedirect:  loginRedirect,
		logoutRedirect: logoutRedirect,
		now:            time.Now,
	}
}

// Mount registers the routes on r.
func (o *OIDC) Mount(r chi.Router) {
	r.Get(AuthenticatePath, o.ServeAuthenticate)
	r.Get(CallbackPath, o.ServeCallback)
	r.Get(LogoutPath, o.ServeLogout)
	r.Post(LogoutPath, o.ServeLogout)
}

// oauth2Config is built per request because the callback URL depends on
// the host and scheme the browser used.
func (o *OIDC) oauth2Config(r *http.Request) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     o.cfg.ClientID,
		ClientSecret: o.cfg.ClientSecret.Reveal(),
		RedirectURL:  absURL(r, CallbackPath),
		Scopes:       o.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  o.cfg.AuthorizationEndpoint,
			TokenURL: o.cfg.TokenEndpoint,
		},
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /oidc/authenticate/                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

func (o *OIDC) ServeAuthenticate(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	next := safeNext(r.URL.Query().Get("next"), o.loginRedirect)

	if err := o.sessions.SaveState(w, r, state, next); err != nil {
		o.log.Error("failed to save OIDC state", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var opts []oauth2.AuthCodeOption
	if r.URL.Query().Get("prompt") == "none" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "none"))
	}
	target := o.oauth2Config(r).AuthCodeURL(state, opts...)

	o.log.Debug("initiating OIDC flow", zap.String("next", next))
	http.Redirect(w, r, target, http.StatusFound)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /oidc/callback/                                                          |
*─────────────────────────────────────────────────────────────────────────────*/

func (o *OIDC) ServeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	want, next := o.sessions.TakeState(r)
	if e := q.Get("error"); e != "" {
		o.fail(w, r, "denied", fmt.Errorf("provider error %s: %s", e, q.Get("error_description")))
		return
	}
	if want == "" || q.Get("state") != want {
		o.fail(w, r, "invalid_state", errors.New("state mismatch"))
		return
	}
	code := q.Get("code")
	if code == "" {
		o.fail(w, r, "invalid_code", errors.New("missing code"))
		return
	}

	cfg := o.oauth2Config(r)
	tok, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		o.fail(w, r, "token_exchange", err)
		return
	}

	u, err := o.fetchUser(r.Context(), cfg, tok)
	if err != nil {
		o.fail(w, r, "user_info", err)
		return
	}

	idToken, _ := tok.Extra("id_token").(string)
	if err := o.sessions.Login(w, r, u, idToken, o.now().Add(o.cfg.RenewIDTokenAfter)); err != nil {
		o.fail(w, r, "session", err)
		return
	}

	metrics.OIDCLoginsTotal.WithLabelValues("success").Inc()
	o.log.Info("user signed in", zap.String("sub", u.Subject), zap.String("email", u.Email))
	http.Redirect(w, r, safeNext(next, o.loginRedirect), http.StatusFound)
}

// fail signs the user out, persists the consumed state, records the
// outcome, and sends the browser to the logout target.  A failed silent
// refresh (prompt=none answered with login_required) must not leave the
// stale user behind, or SessionRefresh would redirect again on the next
// request.
func (o *OIDC) fail(w http.ResponseWriter, r *http.Request, result string, err error) {
	o.sessions.ClearUser(r)
	if serr := o.sessions.Save(w, r); serr != nil {
		o.log.Error("failed to save session", zap.Error(serr))
	}
	metrics.OIDCLoginsTotal.WithLabelValues(result).Inc()
	o.log.Warn("OIDC callback failed", zap.String("result", result), zap.Error(err))
	http.Redirect(w, r, o.logoutRedirect, http.StatusFound)
}

type userInfo struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

func (o *OIDC) fetchUser(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (session.User, error) {
	ctx, cancel := context.WithTimeout(ctx, userInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.UserEndpoint, nil)
	if err != nil {
		return session.User{}, err
	}
	resp, err := cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return session.User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return session.User{}, fmt.Errorf("user endpoint: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var ui userInfo
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		return session.User{}, fmt.Errorf("user endpoint: %w", err)
	}
	if ui.Subject == "" {
		return session.User{}, errors.New("user endpoint: missing sub")
	}
	name := ui.Name
	if name == "" {
		name = ui.PreferredUsername
	}
	return session.User{Subject: ui.Subject, Email: ui.Email, Name: name}, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| /oidc/logout/                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

func (o *OIDC) ServeLogout(w http.ResponseWriter, r *http.Request) {
	idToken, err := o.sessions.Logout(w, r)
	if err != nil {
		o.log.Error("failed to clear session", zap.Error(err))
	}

	target, err := url.Parse(o.cfg.LogoutURL)
	if err != nil {
		http.Redirect(w, r, o.logoutRedirect, http.StatusFound)
		return
	}
	q := target.Query()
	q.Set("client_id", o.cfg.ClientID)
	q.Set("post_logout_redirect_uri", absURL(r, o.logoutRedirect))
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Session refresh                                                              |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionRefresh sends signed-in users whose ID token is due for renewal
// back through a silent (prompt=none) authentication.  Only idempotent,
// non-AJAX requests are redirected; the OIDC routes themselves are exempt.
func (o *OIDC) SessionRefresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet ||
			strings.HasPrefix(r.URL.Path, "/oidc/") ||
			r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
			next.ServeHTTP(w, r)
			return
		}
		exp, ok := o.sessions.TokenExpiry(r)
		if !ok || o.now().Before(exp) {
			next.ServeHTTP(w, r)
			return
		}

		q := url.Values{"next": {r.URL.RequestURI()}, "prompt": {"none"}}
		o.log.Debug("ID token due for renewal", zap.String("path", r.URL.Path))
		http.Redirect(w, r, AuthenticatePath+"?"+q.Encode(), http.StatusFound)
	})
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// absURL builds an absolute URL for path on the host the browser used.
func absURL(r *http.Request, path string) string {
	scheme := "http"
	if info := requestinfo.FromContext(r.Context()); (info != nil && info.Secure) || r.TLS != nil {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: r.Host, Path: path}).String()
}

// safeNext accepts local absolute paths only.
func safeNext(next, def string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return def
	}
	return next
}
