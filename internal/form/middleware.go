// internal/form/middleware.go
//
// Double-submit CSRF check.
//
// Context
// -------
// Safe requests (GET, HEAD, OPTIONS, TRACE) receive a token in the
// `csrftoken` cookie when they do not already carry a valid one.  The
// cookie is readable by scripts so pages can echo it back.
//
// Unsafe requests must carry the same token twice: in the cookie and in
// either the `X-CSRFToken` header or the `csrfmiddlewaretoken` form field.
// Both copies must match and the token must verify.  Anything else is
// answered with 403.
//
// Token(ctx) returns the token in effect for the request so handlers can
// embed it.

package form

import (
	"context"
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"github.com/zamhaus/doorcommander/internal/requestinfo"
)

const (
	CookieName = "csrftoken"
	HeaderName = "X-CSRFToken"
	FieldName  = "csrfmiddlewaretoken"
)

type tokenKey struct{}

// Token returns the CSRF token for the request, or "".
func Token(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// Protect issues tokens on safe requests and enforces them on unsafe ones.
func (p *Protector) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cookieTok string
		if c, err := r.Cookie(CookieName); err == nil && p.Verify(c.Value) {
			cookieTok = c.Value
		}

		if !safeMethod(r.Method) {
			sent := r.Header.Get(HeaderName)
			if sent == "" {
				sent = r.PostFormValue(FieldName)
			}
			if cookieTok == "" || subtle.ConstantTimeCompare([]byte(sent), []byte(cookieTok)) != 1 {
				fields := []zap.Field{zap.String("method", r.Method), zap.String("path", r.URL.Path),
					zap.Bool("cookie", cookieTok != ""), zap.Bool("submitted", sent != "")}
				if info := requestinfo.FromContext(r.Context()); info != nil {
					fields = append(fields, zap.Stringer("ip", info.ClientIP))
				}
				p.log.Warn("CSRF verification failed", fields...)
				http.Error(w, "Forbidden (403): CSRF verification failed.", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey{}, cookieTok)))
			return
		}

		if cookieTok == "" {
			tok, err := p.Generate()
			if err != nil {
				p.log.Error("generate CSRF token", zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			cookieTok = tok
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    tok,
				Path:     "/",
				MaxAge:   int(MaxAge.Seconds()),
				Secure:   p.secure,
				HttpOnly: false,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey{}, cookieTok)))
	})
}
