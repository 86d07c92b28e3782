// internal/auth/context.go
//
// Signed-in user on the request context.
//
// Usage
// -----
//     r = r.WithContext(auth.WithUser(r.Context(), u))
//     u, ok := auth.CurrentUser(r.Context())
//
// LoadUser does the first step for every request that carries a valid
// session cookie.

package auth

import (
	"context"
	"net/http"

	"github.com/zamhaus/doorcommander/internal/session"
)

// userKey is unexported to avoid context-key collisions.
type userKey struct{}

// WithUser returns a new context carrying u.
func WithUser(ctx context.Context, u session.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// CurrentUser extracts the user from ctx.
func CurrentUser(ctx context.Context) (session.User, bool) {
	u, ok := ctx.Value(userKey{}).(session.User)
	return u, ok
}

// LoadUser injects the session user into the context when signed in.
func LoadUser(m *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u, ok := m.Current(r); ok {
				r = r.WithContext(WithUser(r.Context(), u))
			}
			next.ServeHTTP(w, r)
		})
	}
}
