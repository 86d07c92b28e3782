// internal/config/secret.go
//
// Signing-secret persistence.
//
// Context
// -------
// Session cookies, OIDC state and CSRF tokens are keyed from one
// process-wide secret.
// It lives as a JSON string in `data/django-secret-key.json` so the value
// survives restarts; deleting the file rotates it.  When Vault is
// configured the file is bypassed entirely (see loader.go).
//
// Notes
// -----
//   - A file that exists but does not decode is fatal.  Silently issuing a
//     new key would invalidate every session and hide the corruption.
//   - Creation writes a temp file in the same directory and hard-links it
//     into place.  The file appears complete or not at all, and two
//     processes racing on an empty data directory agree on whichever link
//     landed first.
package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
)

// ErrCorruptSecret is returned when the secret file cannot be decoded.
var ErrCorruptSecret = errors.New("secret file is corrupt")

const (
	secretAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*(-_=+)"
	secretLength   = 50
	redacted       = "***REDACTED***"
)

// Secret is a sensitive string.  It prints and marshals as a placeholder;
// call Reveal to get the value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// MarshalText keeps secrets out of JSON and YAML dumps.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Reveal returns the raw value.
func (s Secret) Reveal() string { return string(s) }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s == "" }

// GenerateSecret returns a random secret drawn from secretAlphabet.
func GenerateSecret() (Secret, error) {
	size := big.NewInt(int64(len(secretAlphabet)))
	var b strings.Builder
	b.Grow(secretLength)
	for i := 0; i < secretLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate secret: %w", err)
		}
		b.WriteByte(secretAlphabet[n.Int64()])
	}
	return Secret(b.String()), nil
}

// LoadOrCreateSecret returns the secret stored at path, creating it when the
// file does not exist.
func LoadOrCreateSecret(path string) (Secret, error) {
	sec, err := readSecret(path)
	if err == nil {
		return sec, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	sec, err = GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := writeSecret(path, sec); err != nil {
		if errors.Is(err, os.ErrExist) {
			return readSecret(path)
		}
		return "", err
	}
	return sec, nil
}

func readSecret(path string) (Secret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCorruptSecret, path, err)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s: empty value", ErrCorruptSecret, path)
	}
	return Secret(s), nil
}

func writeSecret(path string, sec Secret) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}
	data, err := json.Marshal(sec.Reveal())
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".secret-*.tmp") // mode 0600
	if err != nil {
		return fmt.Errorf("create temp secret: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write secret: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync secret: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close secret: %w", err)
	}

	// Link fails with ErrExist when another writer got there first.
	if err := os.Link(tmp, path); err != nil {
		return err
	}
	return nil
}
