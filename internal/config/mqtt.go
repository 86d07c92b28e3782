// internal/config/mqtt.go
//
// MQTT connection settings.
//
// Context
// -------
// Door controllers talk to the application through an MQTT broker.  The
// connection target comes from MQTT_CONNECTION, a JSON object such as
//
//	{"host": "mosquitto", "port": 8883, "keepalive": 30}
//
// When MQTT_CONNECTION is unset the application talks to a local broker
// with a short keepalive.  When it is set, omitted fields take the broker
// client's own defaults (port 1883, keepalive 60 s) and `host` is
// mandatory.  Unknown fields are rejected so typos fail loudly.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	mqttControllerUser = "controller"
	mqttDefaultPort    = 1883
)

// MQTT holds broker connection parameters.
type MQTT struct {
	Host        string        `json:"host" validate:"required"`
	Port        int           `json:"port" validate:"min=1,max=65535"`
	Keepalive   time.Duration `json:"keepalive" validate:"min=0"`
	BindAddress string        `json:"bind_address,omitempty"`
	Transport   string        `json:"transport" validate:"oneof=tcp websockets"`
	ClientID    string        `json:"client_id,omitempty"`
	TLS         bool          `json:"tls"`
	Auth        *MQTTAuth     `json:"auth,omitempty"`
}

// MQTTAuth is username/password authentication.
type MQTTAuth struct {
	Username string `json:"username" validate:"required"`
	Password Secret `json:"password" validate:"required"`
}

// mqttConnection mirrors the MQTT_CONNECTION JSON object.
type mqttConnection struct {
	Host        string `json:"host"`
	Port        *int   `json:"port"`
	Keepalive   *int   `json:"keepalive"`
	BindAddress string `json:"bind_address"`
}

func loadMQTT(src *Source) (MQTT, error) {
	m := MQTT{
		Host:      "127.0.0.1",
		Port:      mqttDefaultPort,
		Keepalive: 10 * time.Second,
		Transport: src.String("MQTT_TRANSPORT", "tcp"),
		ClientID:  src.String("MQTT_CLIENT_ID", ""),
	}

	if raw, ok := src.Structured("MQTT_CONNECTION"); ok {
		conn, err := decodeMQTTConnection(raw)
		if err != nil {
			return MQTT{}, fmt.Errorf("MQTT_CONNECTION: %w", err)
		}
		if conn.Host == "" {
			return MQTT{}, fmt.Errorf("MQTT_CONNECTION: %w", &MissingError{Key: "host"})
		}
		m.Host = conn.Host
		m.Port = mqttDefaultPort
		m.Keepalive = 60 * time.Second
		m.BindAddress = conn.BindAddress
		if conn.Port != nil {
			m.Port = *conn.Port
		}
		if conn.Keepalive != nil {
			m.Keepalive = time.Duration(*conn.Keepalive) * time.Second
		}
	}

	tls, err := src.Bool("MQTT_TLS", false)
	if err != nil {
		return MQTT{}, err
	}
	m.TLS = tls

	if pw, ok := src.Lookup("MQTT_PASSWD_CONTROLLER"); ok {
		m.Auth = &MQTTAuth{Username: mqttControllerUser, Password: Secret(pw)}
	}
	return m, nil
}

// decodeMQTTConnection accepts a JSON string (environment) or a map (YAML).
func decodeMQTTConnection(raw any) (mqttConnection, error) {
	var data []byte
	switch t := raw.(type) {
	case string:
		data = []byte(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return mqttConnection{}, err
		}
		data = b
	}

	var conn mqttConnection
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&conn); err != nil {
		return mqttConnection{}, err
	}
	return conn, nil
}
