package mqtt

import (
	"errors"
	"sync"
)

// ErrFakeNotConnected is returned by FakeConn.Publish when not connected.
var ErrFakeNotConnected = errors.New("fake: not connected")

// FakeDialer hands out FakeConns whose behaviour is scripted on the dialer.
// Safe for concurrent use.
type FakeDialer struct {
	mu sync.Mutex

	// ConnectErrors are returned by successive Connect calls across all conns;
	// a nil entry succeeds. Once exhausted, Connect succeeds.
	ConnectErrors []error

	// SubscribeErrors are returned by successive Subscribe calls, like ConnectErrors.
	SubscribeErrors []error

	// PublishError, if set, is returned by Publish on every conn.
	PublishError error

	// Block, if set, makes Connect wait until it is closed or receives.
	Block chan struct{}

	conns []*FakeConn
}

// NewFakeDialer creates a FakeDialer that connects successfully.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Broker returns a fixed fake URL.
func (d *FakeDialer) Broker() string {
	return "ssl://broker.test:8883"
}

// Dial records a new FakeConn and the client identifier it would use.
func (d *FakeDialer) Dial(scope string, onLost func(error)) Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &FakeConn{
		dialer:   d,
		onLost:   onLost,
		scope:    scope,
		clientID: ClientID("fake", scope, uint64(len(d.conns)+1)),
	}
	d.conns = append(d.conns, c)
	return c
}

// Dials returns how many conns were created.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Conn returns the i-th dialed conn, or nil.
func (d *FakeDialer) Conn(i int) *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// Last returns the most recently dialed conn, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *FakeDialer) nextConnectErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ConnectErrors) == 0 {
		return nil
	}
	err := d.ConnectErrors[0]
	d.ConnectErrors = d.ConnectErrors[1:]
	return err
}

func (d *FakeDialer) nextSubscribeErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.SubscribeErrors) == 0 {
		return nil
	}
	err := d.SubscribeErrors[0]
	d.SubscribeErrors = d.SubscribeErrors[1:]
	return err
}

// FakeConn records what a session did with its connection.
type FakeConn struct {
	dialer   *FakeDialer
	onLost   func(error)
	scope    string
	clientID string

	mu          sync.Mutex
	connected   bool
	handler     MessageHandler
	topics      []string
	published   []Message
	disconnects int
}

// Scope returns the scope the conn was dialed with.
func (c *FakeConn) Scope() string { return c.scope }

// ClientID returns the client identifier the conn was dialed with.
func (c *FakeConn) ClientID() string { return c.clientID }

// Connect consumes the next scripted connect error.
func (c *FakeConn) Connect() error {
	c.dialer.mu.Lock()
	block := c.dialer.Block
	c.dialer.mu.Unlock()
	if block != nil {
		<-block
	}

	err := c.dialer.nextConnectErr()
	if err == nil {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
	}
	return err
}

// Subscribe records topics and the handler.
func (c *FakeConn) Subscribe(topics []string, handler MessageHandler) error {
	if err := c.dialer.nextSubscribeErr(); err != nil {
		return err
	}
	c.mu.Lock()
	c.topics = append(c.topics, topics...)
	c.handler = handler
	c.mu.Unlock()
	return nil
}

// Publish records the message.
func (c *FakeConn) Publish(topic string, payload []byte) error {
	c.dialer.mu.Lock()
	pubErr := c.dialer.PublishError
	c.dialer.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrFakeNotConnected
	}
	if pubErr != nil {
		return pubErr
	}
	c.published = append(c.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Disconnect marks the conn closed and drops its subscriptions.
func (c *FakeConn) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.topics = nil
	c.handler = nil
	c.disconnects++
	c.mu.Unlock()
}

// IsConnected reports the fake connection state.
func (c *FakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Topics returns the currently subscribed topics.
func (c *FakeConn) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

// Published returns all messages published on this conn.
func (c *FakeConn) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// Disconnects returns how many times Disconnect was called.
func (c *FakeConn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// SimulateMessage delivers a message to the subscribed handler, if any.
// Reports whether a handler received it.
func (c *FakeConn) SimulateMessage(topic, payload string) bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(Message{Topic: topic, Payload: []byte(payload)})
	return true
}

// SimulateConnectionLost drops the connection and fires the lost callback.
func (c *FakeConn) SimulateConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	if c.onLost != nil {
		c.onLost(err)
	}
}
