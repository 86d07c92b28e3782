// internal/config/source.go
//
// Layered key/value source for the settings loader.
//
/*
Context
--------
Settings are read from three layers merged into one Koanf tree (highest
precedence last):

  1. Optional `conf/settings.yaml` under the root directory.
  2. Optional `.env` at the root.  It is parsed with godotenv.Read so the
     process environment is never mutated.
  3. The process environment.

Every key is the lowercase form of the familiar variable name, so
`OIDC_RP_CLIENT_ID` in the environment and `oidc_rp_client_id` in YAML
address the same value.

Notes
-----
  • An empty string is treated as "not set" by Require.
  • Values that YAML decodes as maps or lists are kept as-is; callers that
    accept structured values (MQTT_CONNECTION, DJANGO_LOGGING) use Structured.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

// ErrMissing is returned when a required key is absent or empty.
var ErrMissing = errors.New("required setting is not set")

// MissingError names the key that was not found.
type MissingError struct {
	Key string
}

func (e *MissingError) Error() string { return fmt.Sprintf("%s: %v", strings.ToUpper(e.Key), ErrMissing) }
func (e *MissingError) Unwrap() error { return ErrMissing }

// Source is a read-only view over the merged configuration layers.
type Source struct {
	k *koanf.Koanf
}

// NewSource builds a Source from the optional YAML file, the optional dotenv
// file, and the process environment.  Empty paths skip their layer, and a
// path that does not exist is skipped silently.
func NewSource(yamlPath, dotenvPath string) (*Source, error) {
	k := koanf.New(".")

	if yamlPath != "" && fileExists(yamlPath) {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", yamlPath, err)
		}
	}

	if dotenvPath != "" && fileExists(dotenvPath) {
		vals, err := godotenv.Read(dotenvPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
		}
		m := make(map[string]any, len(vals))
		for key, val := range vals {
			m[normalizeKey(key)] = val
		}
		if err := k.Load(confmap.Provider(m, ""), nil); err != nil {
			return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", normalizeKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	return &Source{k: k}, nil
}

// NewMapSource returns a Source backed only by vals.  Keys may use either
// case.  It exists for tests and for callers that assemble settings
// programmatically.
func NewMapSource(vals map[string]any) *Source {
	k := koanf.New(".")
	m := make(map[string]any, len(vals))
	for key, val := range vals {
		m[normalizeKey(key)] = val
	}
	_ = k.Load(confmap.Provider(m, ""), nil) // confmap never fails
	return &Source{k: k}
}

// Raw returns the stored value without conversion.
func (s *Source) Raw(key string) (any, bool) {
	key = normalizeKey(key)
	if !s.k.Exists(key) {
		return nil, false
	}
	return s.k.Get(key), true
}

// Structured returns a value that may be a JSON string or a YAML map.  A
// blank string counts as absent.
func (s *Source) Structured(key string) (any, bool) {
	raw, ok := s.Raw(key)
	if !ok || raw == nil {
		return nil, false
	}
	if str, isStr := raw.(string); isStr && strings.TrimSpace(str) == "" {
		return nil, false
	}
	return raw, true
}

// Lookup returns the string form of key.  ok is false when the key is absent
// or empty.
func (s *Source) Lookup(key string) (string, bool) {
	raw, ok := s.Raw(key)
	if !ok || raw == nil {
		return "", false
	}
	var v string
	switch t := raw.(type) {
	case string:
		v = t
	default:
		v = fmt.Sprint(t)
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// String returns key or def when the key is not set.
func (s *Source) String(key, def string) string {
	if v, ok := s.Lookup(key); ok {
		return v
	}
	return def
}

// Require returns key or a *MissingError.
func (s *Source) Require(key string) (string, error) {
	if v, ok := s.Lookup(key); ok {
		return v, nil
	}
	return "", &MissingError{Key: normalizeKey(key)}
}

// Bool parses key with strconv.ParseBool.  Unset keys yield def.
func (s *Source) Bool(key string, def bool) (bool, error) {
	v, ok := s.Lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", strings.ToUpper(normalizeKey(key)), err)
	}
	return b, nil
}

// Int parses key as a base-10 integer.  Unset keys yield def.
func (s *Source) Int(key string, def int) (int, error) {
	v, ok := s.Lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", strings.ToUpper(normalizeKey(key)), err)
	}
	return n, nil
}

// List splits a comma-separated value, trimming blanks.  Unset keys yield
// def.  YAML lists are accepted as well.
func (s *Source) List(key string, def []string) []string {
	raw, ok := s.Raw(key)
	if !ok {
		return def
	}
	var parts []string
	switch t := raw.(type) {
	case []any:
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
	case string:
		parts = strings.Split(t, ",")
	default:
		parts = []string{fmt.Sprint(t)}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func normalizeKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
