// internal/session/session.go
//
// Cookie-backed sessions.
//
// Context
//   Authentication persists the signed-in user and the OIDC token
//   bookkeeping between requests.  Everything lives in one
//   gorilla/sessions cookie that is authenticated and encrypted with keys
//   derived from the process signing secret, so rotating the secret file
//   logs everybody out and nothing else needs managing.
//
//   Cookie flags follow the settings: Secure unless debug, HttpOnly, and
//   SameSite=Lax so the OIDC callback (a top-level cross-site GET) still
//   carries the cookie.
//
//------------------------------------------------------------------------------

package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"

	"github.com/zamhaus/doorcommander/internal/config"
)

// Name is the session cookie name.
const Name = "door_commander_session"

const (
	maxAge = 14 * 24 * time.Hour

	keySubject   = "sub"
	keyEmail     = "email"
	keyName      = "name"
	keyIDToken   = "oidc_id_token"
	keyExpiresAt = "oidc_id_token_expiration" // unix seconds
	keyState     = "oidc_state"
	keyNext      = "oidc_login_next"
)

// User is the signed-in identity stored in the session.
type User struct {
	Subject string
	Email   string
	Name    string
}

// Manager wraps the cookie store.  Safe for concurrent use.
type Manager struct {
	store *sessions.CookieStore
}

// New derives the cookie keys from secret.  secure sets the cookie Secure
// flag.
func New(secret config.Secret, secure bool) (*Manager, error) {
	if secret.IsZero() {
		return nil, errors.New("session: empty signing secret")
	}
	hashKey, err := deriveKey(secret, "door-commander session hash", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(secret, "door-commander session block", 32)
	if err != nil {
		return nil, err
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(store.Options.MaxAge)
	return &Manager{store: store}, nil
}

func deriveKey(secret config.Secret, info string, n int) ([]byte, error) {
	key := make([]byte, n)
	r := hkdf.New(sha256.New, []byte(secret.Reveal()), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return key, nil
}

// get never fails: an undecodable cookie yields a fresh session.  The
// session is cached on the request, so every helper below sees the same
// values within one request.
func (m *Manager) get(r *http.Request) *sessions.Session {
	s, _ := m.store.Get(r, Name)
	return s
}

// Save writes the request's session back to the cookie.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request) error {
	return m.get(r).Save(r, w)
}

// Login stores u and the ID token bookkeeping.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, u User, idToken string, expiresAt time.Time) error {
	s := m.get(r)
	s.Values[keySubject] = u.Subject
	s.Values[keyEmail] = u.Email
	s.Values[keyName] = u.Name
	s.Values[keyIDToken] = idToken
	s.Values[keyExpiresAt] = expiresAt.Unix()
	delete(s.Values, keyState)
	delete(s.Values, keyNext)
	return s.Save(r, w)
}

// Logout clears the session and returns the ID token for the provider's
// end-session hint.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) (idToken string, err error) {
	s := m.get(r)
	idToken, _ = s.Values[keyIDToken].(string)
	s.Values = map[any]any{}
	s.Options.MaxAge = -1
	return idToken, s.Save(r, w)
}

// ClearUser forgets the signed-in user and the ID token bookkeeping but
// keeps the cookie.  The change is persisted by the next Save.
func (m *Manager) ClearUser(r *http.Request) {
	s := m.get(r)
	for _, k := range []string{keySubject, keyEmail, keyName, keyIDToken, keyExpiresAt} {
		delete(s.Values, k)
	}
}

// Current returns the signed-in user, if any.
func (m *Manager) Current(r *http.Request) (User, bool) {
	s := m.get(r)
	sub, _ := s.Values[keySubject].(string)
	if sub == "" {
		return User{}, false
	}
	email, _ := s.Values[keyEmail].(string)
	name, _ := s.Values[keyName].(string)
	return User{Subject: sub, Email: email, Name: name}, true
}

// TokenExpiry returns when the stored ID token should be renewed.  ok is
// false when there is no signed-in user.
func (m *Manager) TokenExpiry(r *http.Request) (time.Time, bool) {
	s := m.get(r)
	if sub, _ := s.Values[keySubject].(string); sub == "" {
		return time.Time{}, false
	}
	exp, _ := s.Values[keyExpiresAt].(int64)
	return time.Unix(exp, 0), true
}

// SaveState remembers the login state and the post-login target.
func (m *Manager) SaveState(w http.ResponseWriter, r *http.Request, state, next string) error {
	s := m.get(r)
	s.Values[keyState] = state
	s.Values[keyNext] = next
	return s.Save(r, w)
}

// TakeState returns and forgets the stored state and target.  The change
// is persisted by the next Login or Save on the same request.
func (m *Manager) TakeState(r *http.Request) (state, next string) {
	s := m.get(r)
	state, _ = s.Values[keyState].(string)
	next, _ = s.Values[keyNext].(string)
	delete(s.Values, keyState)
	delete(s.Values, keyNext)
	return state, next
}
