// internal/config/mqtt_test.go
//
// Unit-tests for MQTT settings.
//
// Run: go test ./internal/config -run MQTT -v

package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadMQTTDefaults(t *testing.T) {
	m, err := loadMQTT(NewMapSource(nil))
	if err != nil {
		t.Fatal(err)
	}
	if m.Host != "127.0.0.1" || m.Port != 1883 || m.Keepalive != 10*time.Second {
		t.Fatalf("defaults = %#v", m)
	}
	if m.Transport != "tcp" || m.TLS || m.Auth != nil {
		t.Fatalf("defaults = %#v", m)
	}
}

func TestLoadMQTTBlankConnectionIsDefault(t *testing.T) {
	m, err := loadMQTT(NewMapSource(map[string]any{"MQTT_CONNECTION": "  "}))
	if err != nil {
		t.Fatalf("blank MQTT_CONNECTION: %v", err)
	}
	if m.Host != "127.0.0.1" || m.Keepalive != 10*time.Second {
		t.Fatalf("blank MQTT_CONNECTION = %#v", m)
	}
}

func TestLoadMQTTConnectionOverride(t *testing.T) {
	cases := []struct {
		name      string
		raw       any
		host      string
		port      int
		keepalive time.Duration
	}{
		{"host only", `{"host":"mosquitto"}`, "mosquitto", 1883, 60 * time.Second},
		{"all fields", `{"host":"b","port":8883,"keepalive":30}`, "b", 8883, 30 * time.Second},
		{"yaml map", map[string]any{"host": "y", "port": 1884}, "y", 1884, 60 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := loadMQTT(NewMapSource(map[string]any{"MQTT_CONNECTION": tc.raw}))
			if err != nil {
				t.Fatal(err)
			}
			if m.Host != tc.host || m.Port != tc.port || m.Keepalive != tc.keepalive {
				t.Fatalf("got %s:%d/%s", m.Host, m.Port, m.Keepalive)
			}
		})
	}
}

func TestLoadMQTTConnectionErrors(t *testing.T) {
	_, err := loadMQTT(NewMapSource(map[string]any{"MQTT_CONNECTION": `{"port":1883}`}))
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("missing host: err = %v", err)
	}
	for _, raw := range []string{`{"host":"a","hots":"b"}`, `{not json`} {
		if _, err := loadMQTT(NewMapSource(map[string]any{"MQTT_CONNECTION": raw})); err == nil {
			t.Errorf("%s accepted", raw)
		}
	}
}

func TestLoadMQTTAuthAndTLS(t *testing.T) {
	m, err := loadMQTT(NewMapSource(map[string]any{
		"MQTT_PASSWD_CONTROLLER": "s3cret",
		"MQTT_TLS":               "true",
		"MQTT_TRANSPORT":         "websockets",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if m.Auth == nil || m.Auth.Username != "controller" || m.Auth.Password.Reveal() != "s3cret" {
		t.Fatalf("auth = %#v", m.Auth)
	}
	if !m.TLS || m.Transport != "websockets" {
		t.Fatalf("m = %#v", m)
	}

	if _, err := loadMQTT(NewMapSource(map[string]any{"MQTT_TLS": "maybe"})); err == nil {
		t.Fatal("bad MQTT_TLS accepted")
	}
}
