// internal/config/loader_test.go
//
// Unit-tests for the Settings loader.
//
// Context
// -------
// build() is exercised directly with a map-backed Source so the host
// environment cannot leak in.  Every test gets its own temp root, which
// keeps the debug flag and the secret file isolated.
//
// Run: go test ./internal/config -run Load -v

package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var oidcVals = map[string]any{
	"OIDC_RP_CLIENT_ID":              "door-commander",
	"OIDC_RP_CLIENT_SECRET":          "client-secret",
	"OIDC_OP_AUTHORIZATION_ENDPOINT": "https://id.example.org/auth",
	"OIDC_OP_TOKEN_ENDPOINT":         "https://id.example.org/token",
	"OIDC_OP_USER_ENDPOINT":          "https://id.example.org/userinfo",
	"OIDC_OP_LOGOUT_URL":             "https://id.example.org/logout",
}

type fakeVault struct {
	val  string
	err  error
	path string
	key  string
}

func (f *fakeVault) GetKV(_ context.Context, p, k string, _ time.Duration) (string, error) {
	f.path, f.key = p, k
	return f.val, f.err
}

func debugRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "data"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "data", "ACTIVATE_DEBUG_MODE"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	return root
}

func noProxy() Options {
	return Options{Resolver: &fakeResolver{err: errors.New("no such host")}}
}

func merge(ms ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func TestLoadDebugDefaults(t *testing.T) {
	root := debugRoot(t)
	s, err := build(context.Background(), NewMapSource(nil), root, noProxy(), zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if !s.Debug {
		t.Fatal("debug flag not detected")
	}
	if s.Database.Engine != EngineSQLite {
		t.Fatalf("engine = %s, want sqlite", s.Database.Engine)
	}
	if s.HTTP.SessionCookieSecure || s.HTTP.CSRFCookieSecure {
		t.Fatal("cookies marked secure in debug mode")
	}
	if s.Network.TrustedProxy != nil {
		t.Fatal("unresolved proxy produced a rule")
	}
	if s.OIDC.Enabled {
		t.Fatal("OIDC enabled without settings")
	}
	if !s.GraphQL.Debug {
		t.Fatal("GraphQL debug off in debug mode")
	}
	if len(s.HTTP.AllowedHosts) != 5 || s.HTTP.AllowedHosts[4] != "sesam.zam.haus" {
		t.Fatalf("AllowedHosts = %v", s.HTTP.AllowedHosts)
	}
	if s.MQTT.Host != "127.0.0.1" || s.MQTT.Keepalive != 10*time.Second {
		t.Fatalf("MQTT = %#v", s.MQTT)
	}
	if len(s.Tasks.Schedule) != 1 || s.Tasks.Schedule[0].Interval != 15*time.Minute {
		t.Fatalf("Schedule = %#v", s.Tasks.Schedule)
	}
	if _, err := os.Stat(s.Paths.SecretFile); err != nil {
		t.Fatalf("secret file not created: %v", err)
	}
}

func TestLoadProductionWithoutDatabaseFails(t *testing.T) {
	_, err := build(context.Background(), NewMapSource(nil), t.TempDir(), noProxy(), zap.NewNop())
	if !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("err = %v, want ErrNoDatabase", err)
	}
}

func TestLoadProduction(t *testing.T) {
	src := NewMapSource(merge(oidcVals, map[string]any{
		"POSTGRES_DB":           "doors",
		"POSTGRES_USER":         "door",
		"POSTGRES_PASSWORD":     "pw",
		"PERMITTED_IP_NETWORKS": "10.0.0.0/8, 192.168.0.0/24",
	}))
	opts := Options{Resolver: &fakeResolver{addrs: nil}}
	s, err := build(context.Background(), src, t.TempDir(), opts, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.Debug || !s.HTTP.SessionCookieSecure {
		t.Fatal("production settings not secure")
	}
	if s.Database.Engine != EnginePostgres {
		t.Fatalf("engine = %s", s.Database.Engine)
	}
	oidc, ok := s.OIDC.Get()
	if !ok {
		t.Fatalf("OIDC disabled: %v", s.OIDC.Err)
	}
	if oidc.SignAlgo != "RS256" || oidc.JWKSEndpoint != defaultJWKSEndpoint {
		t.Fatalf("OIDC defaults = %#v", oidc)
	}
	if len(s.Network.PermittedNetworks) != 2 {
		t.Fatalf("PermittedNetworks = %v", s.Network.PermittedNetworks)
	}

	dump, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, leak := range []string{"client-secret", `"pw"`, s.SecretKey.Reveal()} {
		if strings.Contains(string(dump), leak) {
			t.Errorf("settings dump leaks %q", leak)
		}
	}
}

func TestLoadPartialOIDCWarns(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	vals := merge(oidcVals)
	delete(vals, "OIDC_OP_TOKEN_ENDPOINT")

	s, err := build(context.Background(), NewMapSource(vals), debugRoot(t), noProxy(), zap.New(core))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.OIDC.Enabled {
		t.Fatal("partial OIDC enabled")
	}
	if v, _ := s.OIDC.Get(); v.ClientID != "" {
		t.Fatal("partial OIDC leaked a value")
	}
	warn := logs.FilterMessage("did not load OpenID Connect configuration")
	if warn.Len() != 1 {
		t.Fatalf("warnings = %d, want 1", warn.Len())
	}
	if !strings.Contains(s.OIDC.Reason(), "OIDC_OP_TOKEN_ENDPOINT") {
		t.Fatalf("Reason() = %q", s.OIDC.Reason())
	}
}

func TestLoadFullOIDCLogsInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	if _, err := build(context.Background(), NewMapSource(oidcVals), debugRoot(t), noProxy(), zap.New(core)); err != nil {
		t.Fatalf("build: %v", err)
	}
	if logs.FilterMessage("loaded OpenID Connect configuration").Len() != 1 {
		t.Fatal("missing info log")
	}
}

func TestLoadCorruptSecretIsFatal(t *testing.T) {
	root := debugRoot(t)
	if err := os.WriteFile(filepath.Join(root, "data", "django-secret-key.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := build(context.Background(), NewMapSource(nil), root, noProxy(), zap.NewNop())
	if !errors.Is(err, ErrCorruptSecret) {
		t.Fatalf("err = %v, want ErrCorruptSecret", err)
	}
}

func TestLoadSecretFromVault(t *testing.T) {
	v := &fakeVault{val: "from-vault"}
	opts := noProxy()
	opts.Vault = v
	src := NewMapSource(map[string]any{"SECRET_KEY_VAULT_PATH": "kv/door-commander#secret_key"})

	s, err := build(context.Background(), src, debugRoot(t), opts, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.SecretKey.Reveal() != "from-vault" {
		t.Fatalf("secret = %q", s.SecretKey.Reveal())
	}
	if v.path != "kv/door-commander" || v.key != "secret_key" {
		t.Fatalf("vault lookup = %s#%s", v.path, v.key)
	}
	if _, err := os.Stat(s.Paths.SecretFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("secret file written although Vault is configured")
	}

	opts.Vault = nil
	if _, err := build(context.Background(), src, debugRoot(t), opts, zap.NewNop()); err == nil {
		t.Fatal("vault path without client accepted")
	}
	opts.Vault = v
	bad := NewMapSource(map[string]any{"SECRET_KEY_VAULT_PATH": "kv/no-key"})
	if _, err := build(context.Background(), bad, debugRoot(t), opts, zap.NewNop()); err == nil {
		t.Fatal("vault path without #key accepted")
	}
}

func TestLoadLoggingOverride(t *testing.T) {
	src := NewMapSource(map[string]any{
		"LOG_LEVEL": "DEBUG",
		"LOGGING":   `{"level":"warn","encoding":"console","outputPaths":["stderr"]}`,
	})
	s, err := build(context.Background(), src, debugRoot(t), noProxy(), zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.Logging.Level != "debug" {
		t.Fatalf("Level = %q", s.Logging.Level)
	}
	if s.Logging.Override == nil || s.Logging.Override.Encoding != "console" {
		t.Fatalf("Override = %#v", s.Logging.Override)
	}
	if s.Logging.Override.Level.Level() != zapcore.WarnLevel {
		t.Fatalf("override level = %s", s.Logging.Override.Level.Level())
	}

	bad := NewMapSource(map[string]any{"LOGGING": `{"level":`})
	if _, err := build(context.Background(), bad, debugRoot(t), noProxy(), zap.NewNop()); err == nil {
		t.Fatal("invalid LOGGING accepted")
	}
}

func TestLoadDjangoLoggingOverride(t *testing.T) {
	src := NewMapSource(map[string]any{
		"DJANGO_LOGGING": `{"level":"error","encoding":"json","outputPaths":["stdout"]}`,
		"LOGGING":        `{"level":"warn","encoding":"console","outputPaths":["stderr"]}`,
	})
	s, err := build(context.Background(), src, debugRoot(t), noProxy(), zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.Logging.Override == nil || s.Logging.Override.Encoding != "json" {
		t.Fatalf("DJANGO_LOGGING not preferred: %#v", s.Logging.Override)
	}
	if s.Logging.Override.Level.Level() != zapcore.ErrorLevel {
		t.Fatalf("override level = %s", s.Logging.Override.Level.Level())
	}

	bad := NewMapSource(map[string]any{"DJANGO_LOGGING": `[1,`})
	_, err = build(context.Background(), bad, debugRoot(t), noProxy(), zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "DJANGO_LOGGING") {
		t.Fatalf("invalid DJANGO_LOGGING: err = %v", err)
	}
}

func TestLoadInvalidValuesAreFatal(t *testing.T) {
	cases := map[string]map[string]any{
		"networks":  {"PERMITTED_IP_NETWORKS": "not-a-net"},
		"log level": {"LOG_LEVEL": "chatty"},
		"mqtt":      {"MQTT_CONNECTION": `{"port":1}`},
		"transport": {"MQTT_TRANSPORT": "carrier-pigeon"},
	}
	for name, vals := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := build(context.Background(), NewMapSource(vals), debugRoot(t), noProxy(), zap.NewNop())
			if err == nil {
				t.Fatal("accepted")
			}
		})
	}
}

func TestLoadListenOverride(t *testing.T) {
	opts := noProxy()
	opts.ListenAddr = "127.0.0.1:9000"
	src := NewMapSource(map[string]any{"LISTEN_ADDR": ":8080"})
	s, err := build(context.Background(), src, debugRoot(t), opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if s.HTTP.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ListenAddr = %q", s.HTTP.ListenAddr)
	}
}
