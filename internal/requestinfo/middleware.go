// internal/requestinfo/middleware.go
//
// HTTP middleware that enriches each request with *RequestInfo.
//
/*
Context
--------
This handler sits right after the allowed-host check and before sessions
and authentication.  For every request it:

  1. Resolves the client address.  X-Forwarded-For is honoured only when
     the direct peer is the reverse proxy resolved at startup; otherwise
     the peer address is the client.
  2. Classifies the client against PERMITTED_IP_NETWORKS and INTERNAL_IPS.
  3. Marks the request secure when it arrived over TLS or the proxy set
     the configured SSL header.
  4. Parses the User-Agent header.
  5. Stores a `*RequestInfo` value in `request.Context` under an
     unexported key.

Instrumentation
---------------
At DEBUG level each invocation logs the client address, the proxy and
network classification, the browser family, and the request path.
*/
package requestinfo

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zamhaus/doorcommander/internal/config"
)

/*──────────────────────────── middleware ───────────────────────────────────*/

// Enrich returns middleware that attaches *RequestInfo and forwards.
func Enrich(s *config.Settings, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer := peerAddr(r)
			ip, viaProxy := clientIP(r, peer, s.Network.TrustedProxy)

			info := &RequestInfo{
				ClientIP:  ip,
				Peer:      peer,
				ViaProxy:  viaProxy,
				Permitted: ip.IsValid() && s.Network.Permitted(ip),
				Internal:  isInternal(ip, s.HTTP.InternalIPs),
				Secure:    isSecure(r, s.HTTP.SecureProxySSLHeader),
				UA:        parseUA(r.UserAgent()),
				URL:       r.URL,
				Timestamp: time.Now().UTC(),
			}

			if ce := log.Check(zap.DebugLevel, "request info"); ce != nil {
				ce.Write(
					zap.Stringer("ip", info.ClientIP),
					zap.Bool("via_proxy", info.ViaProxy),
					zap.Bool("permitted", info.Permitted),
					zap.Bool("secure", info.Secure),
					zap.String("browser", info.UA.Browser),
					zap.Bool("bot", info.UA.IsBot),
					zap.String("path", r.URL.Path),
				)
			}

			next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
		})
	}
}
