// internal/auth/oidc_test.go
//
// End-to-end tests for the relying-party routes.
//
// Context
// -------
// fakeProvider is an httptest server with a token endpoint and a user
// endpoint.  Each test walks the browser side by hand: hit a route, copy
// Set-Cookie onto the next request, follow the Location header.
//
// Run: go test ./internal/auth -v

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zamhaus/doorcommander/internal/config"
	"github.com/zamhaus/doorcommander/internal/session"
)

func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   300,
			"id_token":     "id-token",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"u-1","email":"door@zam.haus","preferred_username":"door"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	oidc    *OIDC
	handler http.Handler
	jar     []*http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p := fakeProvider(t)
	cfg := config.OIDC{
		ClientID:              "door-commander",
		ClientSecret:          "shh",
		AuthorizationEndpoint: p.URL + "/auth",
		TokenEndpoint:         p.URL + "/token",
		UserEndpoint:          p.URL + "/userinfo",
		LogoutURL:             p.URL + "/logout",
		RenewIDTokenAfter:     15 * time.Minute,
		Scopes:                []string{"openid", "email"},
	}
	m, err := session.New("test-secret", false)
	if err != nil {
		t.Fatal(err)
	}
	o := NewOIDC(cfg, m, "/", "/", zap.NewNop())

	r := chi.NewRouter()
	r.Use(LoadUser(m), o.SessionRefresh)
	o.Mount(r)
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		u, ok := CurrentUser(r.Context())
		if !ok {
			http.Error(w, "anonymous", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(u.Email))
	})
	return &harness{oidc: o, handler: r}
}

// do sends a request carrying the cookie jar and stores new cookies.
func (h *harness) do(method, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	r.Host = "sesam.zam.haus"
	for _, c := range h.jar {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	if cs := rec.Result().Cookies(); len(cs) > 0 {
		h.jar = cs[len(cs)-1:]
	}
	return rec
}

func (h *harness) login(t *testing.T, next string) *httptest.ResponseRecorder {
	t.Helper()
	rec := h.do(http.MethodGet, AuthenticatePath+"?next="+url.QueryEscape(next))
	if rec.Code != http.StatusFound {
		t.Fatalf("authenticate status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	q := loc.Query()
	if q.Get("client_id") != "door-commander" || q.Get("scope") != "openid email" {
		t.Fatalf("auth URL query = %v", q)
	}
	if q.Get("redirect_uri") != "http://sesam.zam.haus"+CallbackPath {
		t.Fatalf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	return h.do(http.MethodGet, CallbackPath+"?code=good-code&state="+url.QueryEscape(q.Get("state")))
}

func TestLoginFlow(t *testing.T) {
	h := newHarness(t)

	if rec := h.do(http.MethodGet, "/whoami"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous whoami = %d", rec.Code)
	}

	rec := h.login(t, "/doors")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/doors" {
		t.Fatalf("callback = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = h.do(http.MethodGet, "/whoami")
	if rec.Code != http.StatusOK || rec.Body.String() != "door@zam.haus" {
		t.Fatalf("whoami = %d %q", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodGet, LogoutPath)
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if !strings.HasSuffix(loc.Path, "/logout") || loc.Query().Get("id_token_hint") != "id-token" {
		t.Fatalf("logout redirect = %s", loc)
	}
	if rec := h.do(http.MethodGet, "/whoami"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("whoami after logout = %d", rec.Code)
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, AuthenticatePath)

	rec := h.do(http.MethodGet, CallbackPath+"?code=good-code&state=forged")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("callback = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if rec := h.do(http.MethodGet, "/whoami"); rec.Code != http.StatusUnauthorized {
		t.Fatal("forged state signed the user in")
	}
}

func TestCallbackRejectsBadCode(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, AuthenticatePath)
	loc, _ := url.Parse(rec.Header().Get("Location"))

	h.do(http.MethodGet, CallbackPath+"?code=bad-code&state="+url.QueryEscape(loc.Query().Get("state")))
	if rec := h.do(http.MethodGet, "/whoami"); rec.Code != http.StatusUnauthorized {
		t.Fatal("bad code signed the user in")
	}
}

func TestSessionRefreshRedirectsWhenDue(t *testing.T) {
	h := newHarness(t)
	h.login(t, "/")

	if rec := h.do(http.MethodGet, "/whoami"); rec.Code != http.StatusOK {
		t.Fatalf("fresh session whoami = %d", rec.Code)
	}

	h.oidc.now = func() time.Time { return time.Now().Add(time.Hour) }
	rec := h.do(http.MethodGet, "/whoami?x=1")
	if rec.Code != http.StatusFound {
		t.Fatalf("stale session status = %d", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Path != AuthenticatePath || loc.Query().Get("prompt") != "none" || loc.Query().Get("next") != "/whoami?x=1" {
		t.Fatalf("refresh redirect = %s", loc)
	}

	if rec := h.do(http.MethodPost, "/whoami"); rec.Code == http.StatusFound {
		t.Fatal("POST was redirected")
	}
}

func TestFailedSilentRefreshSignsOut(t *testing.T) {
	h := newHarness(t)
	h.login(t, "/")
	h.oidc.now = func() time.Time { return time.Now().Add(time.Hour) }

	rec := h.do(http.MethodGet, "/whoami")
	if rec.Code != http.StatusFound {
		t.Fatalf("stale session status = %d, want 302", rec.Code)
	}
	rec = h.do(http.MethodGet, rec.Header().Get("Location"))
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil || loc.Query().Get("prompt") != "none" {
		t.Fatalf("authenticate redirect = %q", rec.Header().Get("Location"))
	}

	rec = h.do(http.MethodGet, CallbackPath+"?error=login_required&state="+url.QueryEscape(loc.Query().Get("state")))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("callback = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	if rec := h.do(http.MethodGet, "/whoami"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("whoami after failed refresh = %d, want 401", rec.Code)
	}
}

func TestCallbackProviderErrorKeepsAnonymous(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, AuthenticatePath)
	loc, _ := url.Parse(rec.Header().Get("Location"))

	rec = h.do(http.MethodGet, CallbackPath+"?error=access_denied&state="+url.QueryEscape(loc.Query().Get("state")))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("callback = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if rec := h.do(http.MethodGet, "/whoami"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("whoami = %d, want 401", rec.Code)
	}
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                  "/",
		"/doors":            "/doors",
		"//evil.example":    "/",
		"https://evil.test": "/",
		"/\\evil":           "/",
	}
	for in, want := range cases {
		if got := safeNext(in, "/"); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", in, got, want)
		}
	}
}
