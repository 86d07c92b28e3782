// internal/config/model.go
//
// Typed settings model for door-commander.
//
// Context
// -------
// Settings is the single immutable aggregate produced by Load().  It is
// built once per process, before any request is served, and handed to
// every consumer by pointer.  Nothing mutates it afterwards.
//
// Sections map one-to-one to the concerns of the web application: HTTP
// security, database, reverse-proxy trust, MQTT, OpenID Connect, the
// authz microservice, GraphQL, periodic tasks, and logging.
//
// Notes
// -----
//   - Secrets use the Secret type so a JSON dump of Settings is safe to
//     show on the debug page.
//   - Feature fields are validated inside their group, never here.
package config

import (
	"net/netip"
	"time"

	"go.uber.org/zap"
)

//
// HTTP section
//

// HTTP holds web-server and cookie tunables.
type HTTP struct {
	ListenAddr           string       `json:"listen_addr" validate:"required,hostname_port"`
	AllowedHosts         []string     `json:"allowed_hosts" validate:"min=1,dive,required"`
	InternalIPs          []netip.Addr `json:"internal_ips"`
	SecureProxySSLHeader HeaderMatch  `json:"secure_proxy_ssl_header"`
	SessionCookieSecure  bool         `json:"session_cookie_secure"`
	CSRFCookieSecure     bool         `json:"csrf_cookie_secure"`
	LoginRedirectURL     string       `json:"login_redirect_url" validate:"required"`
	LogoutRedirectURL    string       `json:"logout_redirect_url" validate:"required"`
	StaticURL            string       `json:"static_url" validate:"required,startswith=/,endswith=/"`
	StaticRoot           string       `json:"static_root,omitempty"`
}

// HeaderMatch is a header name and the value that marks a request.
type HeaderMatch struct {
	Header string `json:"header" validate:"required"`
	Value  string `json:"value" validate:"required"`
}

//
// Network section
//

// Network holds the reverse-proxy rule and the permitted client networks.
type Network struct {
	ProxyHostname     string         `json:"proxy_hostname"`
	TrustedProxy      *ProxyRule     `json:"trusted_proxy"` // nil when the proxy did not resolve
	PermittedNetworks []netip.Prefix `json:"permitted_networks"`
}

// Permitted reports whether addr lies inside a permitted network.
func (n Network) Permitted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range n.PermittedNetworks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

//
// Authz microservice
//

// OPA points at the Open Policy Agent sidecar.
type OPA struct {
	URL         string `json:"url,omitempty" validate:"omitempty,url"`
	BearerToken Secret `json:"bearer_token"`
}

//
// GraphQL
//

// GraphQL carries endpoint settings; the schema lives elsewhere.
type GraphQL struct {
	Path string `json:"path" validate:"required,startswith=/"`
	// Debug enables the SQL debug extension and the error-hiding
	// middleware.  Both are tied to debug mode.
	Debug bool `json:"debug"`
}

//
// Periodic tasks
//

// Tasks configures the broker and the beat schedule.
type Tasks struct {
	BrokerURL     string          `json:"broker_url" validate:"required,url"`
	ResultBackend string          `json:"result_backend" validate:"required,url"`
	Schedule      []ScheduleEntry `json:"schedule" validate:"dive"`
}

// ScheduleEntry runs Task every Interval.
type ScheduleEntry struct {
	Name     string        `json:"name" validate:"required"`
	Task     string        `json:"task" validate:"required"`
	Interval time.Duration `json:"interval" validate:"gt=0"`
}

//
// Logging
//

// Logging selects between the built-in logger and a full override.
type Logging struct {
	Level string `json:"level" validate:"oneof=debug info warn error"`
	// Override replaces the built-in logger when DJANGO_LOGGING is set.  Encoder
	// funcs do not marshal, so it stays out of JSON dumps.
	Override *zap.Config `json:"-" validate:"-"`
}

//
// Misc
//

// Locale mirrors the i18n settings.
type Locale struct {
	LanguageCode string `json:"language_code" validate:"required"`
	TimeZone     string `json:"time_zone" validate:"required,timezone"`
}

// Paths is resolved at runtime.
type Paths struct {
	Root       string `json:"root" validate:"required"`
	Data       string `json:"data" validate:"required"`
	DebugFlag  string `json:"debug_flag" validate:"required"`
	SecretFile string `json:"secret_file" validate:"required"`
}

//
// Root aggregate
//

// Settings is the immutable aggregate returned by Load.
type Settings struct {
	Debug       bool          `json:"debug"`
	Paths       Paths         `json:"paths"`
	SecretKey   Secret        `json:"secret_key" validate:"required"`
	HTTP        HTTP          `json:"http"`
	Network     Network       `json:"network"`
	Database    Backend       `json:"database"`
	OPA         OPA           `json:"opa"`
	MQTT        MQTT          `json:"mqtt"`
	OIDC        Feature[OIDC] `json:"oidc" validate:"-"`
	GraphQL     GraphQL       `json:"graphql"`
	Tasks       Tasks         `json:"tasks"`
	Logging     Logging       `json:"logging"`
	Locale      Locale        `json:"locale"`
	MailBackend string        `json:"mail_backend" validate:"oneof=console smtp"`
}

// Features lists every feature group with its state, for logging and the
// debug page.
func (s *Settings) Features() []FeatureState {
	return []FeatureState{
		{Name: s.OIDC.Name, Enabled: s.OIDC.Enabled, Reason: s.OIDC.Reason()},
	}
}

// FeatureState is a flattened view of a Feature.
type FeatureState struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}
