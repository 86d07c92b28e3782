// internal/config/loader.go
//
// Settings loader.
//
/*
Context
--------
`Load()` builds one immutable `Settings` struct at process start.  It reads
the layered Source (YAML, .env, environment; see source.go), the debug flag
file, the persisted signing secret, and resolves the reverse-proxy
hostname.  The result is validated and returned; there is no package-level
copy.  Callers pass the pointer to whatever needs it.

Failure classes
---------------
  • Fatal: a mandatory key is missing, the secret file is corrupt, a JSON
    override does not decode, a network list does not parse, no database
    backend can be selected, or validation fails.  Load returns an error.
  • Degraded: a feature group (OIDC) is incomplete.  A warning is logged,
    the feature is disabled, and Load succeeds.
  • Best-effort: the proxy hostname does not resolve.  The rule is simply
    absent.

Instrumentation
---------------
  • DEBUG: root discovery, secret source, proxy resolution.
  • INFO:  feature groups that loaded, final "settings loaded" summary.
  • WARN:  feature groups that did not load, with the reason.
*/
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	rootEnv        = "DOOR_COMMANDER_ROOT"
	dataDirName    = "data"
	debugFlagName  = "ACTIVATE_DEBUG_MODE"
	secretFileName = "django-secret-key.json"
	vaultSecretTTL = 0 // read once at startup, no caching needed
)

var defaultAllowedHosts = []string{
	"localhost",
	"127.0.0.1",
	"[::1]",
	"python",
	"sesam.zam.haus",
}

// SecretReader fetches one key from a KV secret.  *vault.Client satisfies
// it.
type SecretReader interface {
	GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error)
}

// Options tune Load.  The zero value is usable.
type Options struct {
	Root       string       // empty: DOOR_COMMANDER_ROOT or discovery
	ListenAddr string       // overrides LISTEN_ADDR when non-empty
	Logger     *zap.Logger  // nil: no-op logger
	Resolver   Resolver     // nil: net.DefaultResolver
	Vault      SecretReader // nil: Vault disabled
}

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves DOOR_COMMANDER_ROOT or climbs directories until a data/
// directory is found.  Falls back to the executable heuristic for the
// production layout, then to the working directory.
func rootDir() string {
	if r := os.Getenv(rootEnv); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if fi, err := os.Stat(filepath.Join(dir, dataDirName)); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads every source once and returns validated Settings.
func Load(ctx context.Context, opts Options) (*Settings, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	root := opts.Root
	if root == "" {
		root = rootDir()
	}
	log.Debug("settings root resolved", zap.String("root", root))

	src, err := NewSource(filepath.Join(root, "conf", "settings.yaml"), filepath.Join(root, ".env"))
	if err != nil {
		return nil, err
	}
	return build(ctx, src, root, opts, log)
}

// build assembles Settings from an already-populated Source.
func build(ctx context.Context, src *Source, root string, opts Options, log *zap.Logger) (*Settings, error) {
	s := &Settings{}

	//
	// Paths and debug flag
	//
	s.Paths = Paths{
		Root:       root,
		Data:       filepath.Join(root, dataDirName),
		DebugFlag:  filepath.Join(root, dataDirName, debugFlagName),
		SecretFile: filepath.Join(root, dataDirName, secretFileName),
	}
	s.Debug = fileExists(s.Paths.DebugFlag)

	//
	// Logging
	//
	logging, err := loadLogging(src)
	if err != nil {
		return nil, err
	}
	s.Logging = logging

	//
	// Signing secret
	//
	secret, err := loadSecret(ctx, src, s.Paths.SecretFile, opts.Vault, log)
	if err != nil {
		return nil, err
	}
	s.SecretKey = secret

	//
	// HTTP and cookie security
	//
	listen := src.String("LISTEN_ADDR", ":8000")
	if opts.ListenAddr != "" {
		listen = opts.ListenAddr
	}
	s.HTTP = HTTP{
		ListenAddr:           listen,
		AllowedHosts:         src.List("ALLOWED_HOSTS", defaultAllowedHosts),
		InternalIPs:          []netip.Addr{netip.MustParseAddr("127.0.0.1"), netip.IPv6Loopback()},
		SecureProxySSLHeader: HeaderMatch{Header: "X-Forwarded-Proto", Value: "https"},
		SessionCookieSecure:  !s.Debug,
		CSRFCookieSecure:     !s.Debug,
		LoginRedirectURL:     "/",
		LogoutRedirectURL:    "/",
		StaticURL:            "/static/",
		StaticRoot:           src.String("COLLECTSTATIC_DIR", ""),
	}

	//
	// Reverse proxy and client networks
	//
	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	s.Network.ProxyHostname = src.String("PROXY_HOSTNAME", defaultProxyHostname)
	s.Network.TrustedProxy = ResolveTrustedProxy(ctx, resolver, s.Network.ProxyHostname)
	if s.Network.TrustedProxy == nil {
		log.Debug("reverse proxy not resolved, forwarded headers ignored",
			zap.String("hostname", s.Network.ProxyHostname))
	}
	nets, err := parseNetworks(src.List("PERMITTED_IP_NETWORKS", []string{"192.168.0.0/24"}))
	if err != nil {
		return nil, fmt.Errorf("PERMITTED_IP_NETWORKS: %w", err)
	}
	s.Network.PermittedNetworks = nets

	//
	// Database
	//
	db, err := SelectDatabase(src, s.Debug, s.Paths.Data)
	if err != nil {
		return nil, err
	}
	s.Database = db

	//
	// Authz microservice
	//
	s.OPA = OPA{
		URL:         src.String("OPA_URL", ""),
		BearerToken: Secret(src.String("OPA_BEARER_TOKEN", "")),
	}

	//
	// MQTT
	//
	mq, err := loadMQTT(src)
	if err != nil {
		return nil, err
	}
	s.MQTT = mq

	//
	// OpenID Connect (atomic group)
	//
	s.OIDC = loadOIDC(src)
	if s.OIDC.Enabled {
		log.Info("loaded OpenID Connect configuration")
	} else {
		log.Warn("did not load OpenID Connect configuration", zap.Error(s.OIDC.Err))
	}

	//
	// GraphQL, tasks, locale, mail
	//
	s.GraphQL = GraphQL{Path: "/graphql", Debug: s.Debug}
	s.Tasks = Tasks{
		BrokerURL:     src.String("CELERY_BROKER_URL", "redis://redis:6379"),
		ResultBackend: src.String("CELERY_RESULT_BACKEND", "redis://redis:6379"),
		Schedule: []ScheduleEntry{
			{Name: "publish_door_names", Task: "doors.tasks.publish_door_names", Interval: 15 * time.Minute},
		},
	}
	s.Locale = Locale{LanguageCode: "en-us", TimeZone: "UTC"}
	s.MailBackend = "console"

	if err := validateStruct(s); err != nil {
		return nil, fmt.Errorf("settings validation: %w", err)
	}

	log.Info("settings loaded",
		zap.Bool("debug", s.Debug),
		zap.String("listen_addr", s.HTTP.ListenAddr),
		zap.Stringer("database", s.Database),
		zap.String("mqtt", net.JoinHostPort(s.MQTT.Host, fmt.Sprint(s.MQTT.Port))),
		zap.Bool("oidc", s.OIDC.Enabled),
		zap.Bool("trusted_proxy", s.Network.TrustedProxy != nil),
	)
	return s, nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

// loadSecret prefers Vault when SECRET_KEY_VAULT_PATH is set, else the file.
func loadSecret(ctx context.Context, src *Source, file string, vault SecretReader, log *zap.Logger) (Secret, error) {
	ref, ok := src.Lookup("SECRET_KEY_VAULT_PATH")
	if !ok {
		log.Debug("signing secret from file", zap.String("file", file))
		return LoadOrCreateSecret(file)
	}
	if vault == nil {
		return "", errors.New("SECRET_KEY_VAULT_PATH is set but no Vault client is configured (VAULT_ADDR)")
	}
	path, key, found := strings.Cut(ref, "#")
	if !found || path == "" || key == "" {
		return "", fmt.Errorf("SECRET_KEY_VAULT_PATH %q: want mount/path#key", ref)
	}
	v, err := vault.GetKV(ctx, path, key, vaultSecretTTL)
	if err != nil {
		return "", fmt.Errorf("signing secret from vault: %w", err)
	}
	if v == "" {
		return "", fmt.Errorf("signing secret from vault: %w", ErrCorruptSecret)
	}
	log.Debug("signing secret from vault", zap.String("path", path))
	return Secret(v), nil
}

// loggingKeys name the override variable, most specific first.  DJANGO_LOGGING
// is the name existing deployments already set.
var loggingKeys = []string{"DJANGO_LOGGING", "LOGGING"}

// loadLogging reads LOG_LEVEL and the optional logging override.
func loadLogging(src *Source) (Logging, error) {
	l := Logging{Level: strings.ToLower(src.String("LOG_LEVEL", "info"))}

	var (
		raw any
		key string
		ok  bool
	)
	for _, key = range loggingKeys {
		if raw, ok = src.Structured(key); ok {
			break
		}
	}
	if !ok {
		return l, nil
	}
	var data []byte
	switch t := raw.(type) {
	case string:
		data = []byte(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return Logging{}, fmt.Errorf("%s: %w", key, err)
		}
		data = b
	}

	cfg := zap.NewProductionConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Logging{}, fmt.Errorf("%s: %w", key, err)
	}
	l.Override = &cfg
	return l, nil
}
