//
//  internal/requestinfo/requestinfo.go
//
//  Lightweight types and helpers that collect per-request metadata
//  (client address, proxy and network classification, user-agent
//  fingerprint, URL, and timestamp).  These structs are inert, so they
//  are safe to log or JSON-encode.
//
//  Dependencies
//  • github.com/avct/uasurfer     (UA parsing)
//

package requestinfo

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avct/uasurfer"

	"github.com/zamhaus/doorcommander/internal/config"
)

//
//  -----------------------------
//  Struct definitions
//  -----------------------------
//

// UA holds the parsed user-agent properties.
type UA struct {
	Raw     string // Entire User-Agent header
	Browser string // "Chrome", "Firefox", "Safari", etc.
	Version string // "124.0.6367"
	OS      string // "macOS", "Windows", "Android", "iOS", etc.
	Device  string // "Desktop", "Phone", "Tablet", "TV", ...
	IsBot   bool
}

// RequestInfo is attached to the request context by Enrich.
type RequestInfo struct {
	ClientIP  netip.Addr // resolved client, see clientIP
	Peer      netip.Addr // direct TCP peer
	ViaProxy  bool       // peer is the trusted reverse proxy
	Permitted bool       // ClientIP is inside PERMITTED_IP_NETWORKS
	Internal  bool       // ClientIP is one of INTERNAL_IPS
	Secure    bool       // TLS, or the proxy SSL header matched
	UA        UA
	URL       *url.URL // Pointer copy, safe to dereference read-only
	Timestamp time.Time
}

//
//  -----------------------------
//  Public helper: FromContext
//  -----------------------------
//

type ctxKey struct{} // unexported, collision-proof

// FromContext returns the pointer previously stored by Enrich.
// It returns nil if the middleware has not run.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

// WithInfo stores info in ctx.  Tests use it to skip the middleware.
func WithInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

//
//  -----------------------------
//  Internal helpers
//  -----------------------------
//

// peerAddr parses r.RemoteAddr ("ip:port" or a bare ip).
func peerAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if a, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return a.Unmap()
	}
	return netip.Addr{}
}

// clientIP returns the peer unless the peer is the trusted proxy.  In that
// case the right-most forwarded address that is not itself a proxy is the
// client.  Anything that does not parse ends the walk at the peer, so a
// forged left part of the header never wins.
func clientIP(r *http.Request, peer netip.Addr, rule *config.ProxyRule) (netip.Addr, bool) {
	if !rule.Trusts(peer) {
		return peer, false
	}
	var hops []string
	for _, v := range r.Header.Values(rule.Header) {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		a, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return peer, true
		}
		a = a.Unmap()
		if !rule.Trusts(a) {
			return a, true
		}
	}
	return peer, true
}

// isSecure reports TLS or a matching proxy SSL header.
func isSecure(r *http.Request, m config.HeaderMatch) bool {
	if r.TLS != nil {
		return true
	}
	return m.Header != "" && strings.EqualFold(strings.TrimSpace(r.Header.Get(m.Header)), m.Value)
}

func isInternal(a netip.Addr, internal []netip.Addr) bool {
	for _, i := range internal {
		if i.Unmap() == a {
			return true
		}
	}
	return false
}

// parseUA converts a raw header into our UA struct using uasurfer.
func parseUA(uaHeader string) UA {
	u := uasurfer.Parse(uaHeader)

	osName := strings.TrimPrefix(u.OS.Name.String(), "OS")
	if osName == "MacOSX" {
		osName = "macOS"
	}

	return UA{
		Raw:     uaHeader,
		Browser: strings.TrimPrefix(u.Browser.Name.String(), "Browser"),
		Version: trimVersion(u.Browser.Version),
		OS:      osName,
		Device:  deviceTypeToString(u.DeviceType),
		IsBot:   u.IsBot(),
	}
}

// trimVersion builds "major.minor.patch" and removes trailing ".0".
func trimVersion(v uasurfer.Version) string {
	out := strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
	for strings.HasSuffix(out, ".0") {
		out = strings.TrimSuffix(out, ".0")
	}
	return out
}

// deviceTypeToString maps uasurfer.DeviceType to a user-friendly string.
func deviceTypeToString(dt uasurfer.DeviceType) string {
	switch dt {
	case uasurfer.DeviceComputer:
		return "Desktop"
	case uasurfer.DevicePhone:
		return "Phone"
	case uasurfer.DeviceTablet:
		return "Tablet"
	case uasurfer.DeviceConsole:
		return "Console"
	case uasurfer.DeviceWearable:
		return "Wearable"
	case uasurfer.DeviceTV:
		return "TV"
	default:
		return "Unknown"
	}
}
