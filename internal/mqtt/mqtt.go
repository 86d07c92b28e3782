// internal/mqtt/mqtt.go
//
// MQTT client for the door controllers.
//
// Context
// -------
// The web application does not open doors itself; it publishes to the
// broker and the controllers subscribe.  This package turns config.MQTT
// into paho client options and offers a context-aware Publish.
//
// Connection handling
// -------------------
//   - ConnectRetry is on, so Connect returns immediately when ctx ends and
//     publishes issued while the first connection is pending are queued.
//   - AutoReconnect is on.  Connection loss and recovery are logged.
//   - BindAddress, when set, pins the local side of the TCP connection.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/zamhaus/doorcommander/internal/config"
)

const (
	defaultClientID   = "door-commander"
	websocketPath     = "/mqtt"
	retryInterval     = 10 * time.Second
	disconnectQuiesce = 250 // ms
)

// Publisher is what the rest of the application needs from the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
}

// Client wraps a paho client.  Safe for concurrent use.
type Client struct {
	c   paho.Client
	log *zap.Logger
}

// New builds the client without connecting.
func New(cfg config.MQTT, log *zap.Logger) *Client {
	log = log.Named("mqtt")
	return &Client{c: paho.NewClient(Options(cfg, log)), log: log}
}

// Options renders cfg as paho client options.
func Options(cfg config.MQTT, log *zap.Logger) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(BrokerURL(cfg).String()).
		SetKeepAlive(cfg.Keepalive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetCleanSession(true).
		SetOrderMatters(false)

	id := cfg.ClientID
	if id == "" {
		id = defaultClientID
	}
	opts.SetClientID(id)

	if cfg.Auth != nil {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password.Reveal())
	}
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if cfg.BindAddress != "" {
		opts.SetDialer(&net.Dialer{
			Timeout:   30 * time.Second,
			LocalAddr: &net.TCPAddr{IP: net.ParseIP(cfg.BindAddress)},
		})
	}

	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("connected to broker", zap.String("broker", BrokerURL(cfg).Redacted()))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("connection to broker lost", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		log.Debug("reconnecting to broker")
	})
	return opts
}

// BrokerURL picks the scheme from transport and TLS.
func BrokerURL(cfg config.MQTT) *url.URL {
	u := &url.URL{Host: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}
	switch {
	case cfg.Transport == "websockets" && cfg.TLS:
		u.Scheme, u.Path = "wss", websocketPath
	case cfg.Transport == "websockets":
		u.Scheme, u.Path = "ws", websocketPath
	case cfg.TLS:
		u.Scheme = "ssl"
	default:
		u.Scheme = "tcp"
	}
	return u
}

// Connect starts connecting and waits until the first connection is up or
// ctx ends.  Retries continue in the background after ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	return wait(ctx, c.c.Connect())
}

// Publish sends payload with QoS 1.
func (c *Client) Publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	if err := wait(ctx, c.c.Publish(topic, 1, retained, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, giving in-flight work a moment to finish.
func (c *Client) Close() {
	c.c.Disconnect(disconnectQuiesce)
	c.log.Debug("disconnected from broker")
}

func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
