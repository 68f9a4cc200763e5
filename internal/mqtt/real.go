package mqtt

import (
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config describes the broker endpoint and credentials.
type Config struct {
	Host           string
	Port           int
	TLS            bool
	WebSocket      bool // ws(s)://host:port/mqtt instead of tcp/ssl
	ClientID       string // prefix; each connection appends its scope and a sequence
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// BrokerURL returns the paho broker URL for the configured transport.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	switch {
	case c.WebSocket && c.TLS:
		scheme = "wss"
	case c.WebSocket:
		scheme = "ws"
	case c.TLS:
		scheme = "ssl"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
	if c.WebSocket {
		url += "/mqtt"
	}
	return url
}

// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
const disconnectQuiesce = 250

// PahoDialer dials a real MQTT broker.
type PahoDialer struct {
	cfg Config
	seq atomic.Uint64
}

// NewPahoDialer returns a dialer for the configured broker.
func NewPahoDialer(cfg Config) *PahoDialer {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tank-monitor"
	}
	return &PahoDialer{cfg: cfg}
}

// Broker returns the broker URL.
func (d *PahoDialer) Broker() string {
	return d.cfg.BrokerURL()
}

// Dial builds a paho client. Automatic reconnect is off: the channel
// session owns retries so it can report each state change.
func (d *PahoDialer) Dial(scope string, onLost func(error)) Conn {
	opts := paho.NewClientOptions().
		AddBroker(d.cfg.BrokerURL()).
		SetClientID(ClientID(d.cfg.ClientID, scope, d.seq.Add(1))).
		SetUsername(d.cfg.Username).
		SetPassword(d.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(d.cfg.ConnectTimeout)

	if d.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			ServerName: d.cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	}

	var lostOnce sync.Once
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		if onLost == nil {
			return
		}
		lostOnce.Do(func() { onLost(err) })
	})

	return &pahoConn{
		client:  paho.NewClient(opts),
		timeout: d.cfg.ConnectTimeout,
	}
}

type pahoConn struct {
	client  paho.Client
	timeout time.Duration

	mu     sync.Mutex
	topics []string
}

func (c *pahoConn) Connect() error {
	return wait(c.client.Connect(), c.timeout, "connect")
}

func (c *pahoConn) Subscribe(topics []string, handler MessageHandler) error {
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = 0
	}
	token := c.client.SubscribeMultiple(filters, func(_ paho.Client, m paho.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if err := wait(token, c.timeout, "subscribe"); err != nil {
		return err
	}

	c.mu.Lock()
	c.topics = append(c.topics, topics...)
	c.mu.Unlock()
	return nil
}

func (c *pahoConn) Publish(topic string, payload []byte) error {
	// QoS 0 (at-most-once), not retained
	return wait(c.client.Publish(topic, 0, false, payload), c.timeout, "publish")
}

func (c *pahoConn) Disconnect() {
	c.mu.Lock()
	topics := c.topics
	c.topics = nil
	c.mu.Unlock()

	if len(topics) > 0 && c.client.IsConnectionOpen() {
		// best effort; the clean session drops them anyway
		c.client.Unsubscribe(topics...).WaitTimeout(c.timeout)
	}
	// Also aborts an attempt still in progress after a connect timeout.
	c.client.Disconnect(disconnectQuiesce)
}

func (c *pahoConn) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

func wait(token paho.Token, timeout time.Duration, op string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%s timeout after %v", op, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
