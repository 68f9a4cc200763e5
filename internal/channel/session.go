package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/tank-monitor/internal/logger"
	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/tank"
)

// Status text prefixes reported in State.LastError.
const (
	prefixConnectFailed   = "Connection failed: "
	prefixSubscribeFailed = "Subscription failed: "
	prefixConnectionLost  = "Connection lost: "
)

// Session is one consumer's live connection to the broker, scoped either to a
// tank's metric topics or to a device's command topic.
//
// Every connect attempt gets a new generation number and its own mqtt.Conn.
// Completions and callbacks carrying an old generation are ignored, and the
// conn they belong to is disconnected by whoever replaced it.
//
// Consumer callbacks for one session never overlap and states arrive in the
// order they were taken: a state older than one already delivered is dropped.
type Session struct {
	m        *Manager
	log      *logger.Logger
	consumer Consumer
	tankID   string
	deviceID string
	scope    string
	topics   []string

	notifyMu sync.Mutex // held while calling the consumer; taken before mu
	notified uint64     // seq of the last state delivered

	mu       sync.Mutex
	geometry tank.Geometry
	state    State
	conn     mqtt.Conn // current connected conn; nil unless Connected
	gen      uint64
	timer    Timer
	retrySeq uint64
	stateSeq uint64
	closed   bool
	recent   *ringBuffer
}

// stateEvent is a state snapshot waiting to be delivered.
type stateEvent struct {
	st  State
	seq uint64
}

func newSession(m *Manager, c Consumer, topics []string) *Session {
	if c == nil {
		c = Funcs{}
	}
	return &Session{
		m:        m,
		consumer: c,
		topics:   topics,
		state: State{
			Status: StatusConnecting,
			Broker: m.dialer.Broker(),
		},
		recent: newRingBuffer(m.opts.RecentLimit),
	}
}

// TankID returns the tank this session follows, or "" for a device session.
func (s *Session) TankID() string { return s.tankID }

// DeviceID returns the device this session commands, or "" for a tank session.
func (s *Session) DeviceID() string { return s.deviceID }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Geometry returns the geometry used to estimate level readings.
func (s *Session) Geometry() tank.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

// SetGeometry replaces the geometry applied to subsequent level readings.
func (s *Session) SetGeometry(g tank.Geometry) {
	s.mu.Lock()
	s.geometry = g
	s.mu.Unlock()
}

// Recent returns the latest raw messages received, oldest first.
func (s *Session) Recent() []RecentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent.snapshot()
}

// ClearRecent empties the received message log.
func (s *Session) ClearRecent() {
	s.mu.Lock()
	s.recent.clear()
	s.mu.Unlock()
}

// Reconnect cancels any pending retry, drops the current connection and
// starts a new connect attempt immediately.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopTimerLocked()
	old := s.endAttemptLocked()
	ev, gen := s.beginConnectLocked()
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	s.log.Infow("manual reconnect", "attempt", ev.st.Attempts)
	s.notify(ev)
	s.m.opts.Spawn(func() { s.connect(gen) })
	return nil
}

// Close cancels any pending retry and disconnects, releasing all
// subscriptions. In-flight attempts are ignored when they complete.
// Calling Close more than once is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	old := s.endAttemptLocked()
	s.state.Status = StatusDisconnected
	s.state.Topics = nil
	s.state.LastError = ""
	ev := s.eventLocked()
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	s.log.Infow("session closed")
	s.notify(ev)
}

// Publish sends payload on topic. It fails with ErrNotConnected unless the
// session is Connected; nothing is queued.
func (s *Session) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state.Status != StatusConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	if err := conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// SetPump switches the tank's pump on or off.
func (s *Session) SetPump(on bool) error {
	if s.tankID == "" {
		return ErrWrongScope
	}
	return s.Publish(mqtt.TankTopic(s.tankID, mqtt.MetricPump), mqtt.FormatPump(on))
}

// SendDeviceCommand publishes an attach or detach command to the device.
func (s *Session) SendDeviceCommand(cmd mqtt.DeviceCommand) error {
	if s.deviceID == "" {
		return ErrWrongScope
	}
	payload, err := mqtt.FormatDeviceCommand(cmd)
	if err != nil {
		return err
	}
	return s.Publish(mqtt.DeviceCommandTopic(s.deviceID), payload)
}

func (s *Session) start() {
	s.mu.Lock()
	ev, gen := s.beginConnectLocked()
	s.mu.Unlock()

	s.log.Infow("connecting", "broker", ev.st.Broker, "topics", len(s.topics))
	s.notify(ev)
	s.m.opts.Spawn(func() { s.connect(gen) })
}

// connect runs one attempt. It is called without the lock held.
func (s *Session) connect(gen uint64) {
	if !s.current(gen) {
		return
	}
	conn := s.m.dialer.Dial(s.scope, func(err error) { s.connectionLost(gen, err) })

	if err := conn.Connect(); err != nil {
		s.fail(gen, conn, prefixConnectFailed, err)
		return
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		conn.Disconnect()
		return
	}
	s.conn = conn
	s.state.Status = StatusConnected
	s.mu.Unlock()

	if err := conn.Subscribe(s.topics, func(msg mqtt.Message) { s.deliver(gen, msg) }); err != nil {
		s.fail(gen, conn, prefixSubscribeFailed, err)
		return
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		// Whoever moved the generation on has disconnected conn.
		s.mu.Unlock()
		return
	}
	s.state.Topics = append([]string(nil), s.topics...)
	s.state.LastError = ""
	ev := s.eventLocked()
	s.mu.Unlock()

	s.log.Infow("connected", "broker", ev.st.Broker, "attempt", ev.st.Attempts)
	s.notify(ev)
}

// fail handles a connect or subscribe error for attempt gen.
func (s *Session) fail(gen uint64, conn mqtt.Conn, prefix string, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		conn.Disconnect()
		return
	}
	s.endAttemptLocked()
	s.state.Status = StatusReconnecting
	s.state.LastError = prefix + err.Error()
	s.scheduleRetryLocked()
	ev := s.eventLocked()
	s.mu.Unlock()

	conn.Disconnect()
	s.log.Warnw("attempt failed, retrying", "error", err, "retry_in", s.m.opts.RetryDelay)
	s.notify(ev)
}

// connectionLost handles a drop of the established connection for attempt gen.
func (s *Session) connectionLost(gen uint64, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	old := s.endAttemptLocked()
	s.state.Status = StatusDisconnected
	s.state.Topics = nil
	s.state.LastError = prefixConnectionLost + errText(err)
	lost := s.eventLocked()
	s.state.Status = StatusReconnecting
	s.scheduleRetryLocked()
	retrying := s.eventLocked()
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	s.log.Warnw("connection lost", "error", err, "retry_in", s.m.opts.RetryDelay)
	s.notify(lost, retrying)
}

// retry is the timer callback. seq identifies the timer that fired.
func (s *Session) retry(seq uint64) {
	s.mu.Lock()
	if s.closed || s.timer == nil || seq != s.retrySeq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ev, gen := s.beginConnectLocked()
	s.mu.Unlock()

	s.log.Infow("retrying", "attempt", ev.st.Attempts)
	s.notify(ev)
	s.m.opts.Spawn(func() { s.connect(gen) })
}

// deliver is the subscription handler for attempt gen.
func (s *Session) deliver(gen uint64, msg mqtt.Message) {
	now := s.m.opts.Now()

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.recent.push(RecentMessage{Topic: msg.Topic, Payload: string(msg.Payload), ReceivedAt: now})
	g := s.geometry
	s.mu.Unlock()

	u, ok := s.decode(msg, g, now)
	if !ok {
		s.log.Debugw("ignoring message", "topic", msg.Topic)
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	// Teardown may have been reported while decoding.
	if !s.current(gen) {
		return
	}
	s.consumer.OnUpdate(u)
}

// notify hands states to the consumer in sequence order, skipping any that a
// later state has already overtaken.
func (s *Session) notify(evs ...stateEvent) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, ev := range evs {
		if ev.seq <= s.notified {
			continue
		}
		s.notified = ev.seq
		s.consumer.OnState(ev.st)
	}
}

// current reports whether attempt gen is still the live one.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

// decode routes a message by topic suffix. Level readings run through the
// estimator; a non-numeric level payload yields an all-unavailable estimate.
func (s *Session) decode(msg mqtt.Message, g tank.Geometry, now time.Time) (Update, bool) {
	u := Update{
		TankID:     s.tankID,
		DeviceID:   s.deviceID,
		Topic:      msg.Topic,
		Raw:        string(msg.Payload),
		ReceivedAt: now,
	}

	if s.deviceID != "" {
		if msg.Topic != mqtt.DeviceCommandTopic(s.deviceID) {
			return u, false
		}
		if cmd, err := mqtt.ParseDeviceCommand(msg.Payload); err == nil {
			u.Command = &cmd
		}
		return u, true
	}

	tankID, metric, ok := mqtt.SplitTankTopic(msg.Topic)
	if !ok || tankID != s.tankID {
		return u, false
	}
	u.Metric = metric

	switch metric {
	case mqtt.MetricPump:
		if on, ok := mqtt.ParsePump(msg.Payload); ok {
			u.PumpOn = &on
		}
	case mqtt.MetricLevel:
		est := tank.VolumeEstimate{}
		if v, ok := mqtt.ParseScalar(msg.Payload); ok {
			u.Value = &v
			est = tank.Estimate(g, v)
		}
		u.Estimate = &est
	default:
		if v, ok := mqtt.ParseScalar(msg.Payload); ok {
			u.Value = &v
		}
	}
	return u, true
}

// beginConnectLocked moves to Connecting under a new generation.
func (s *Session) beginConnectLocked() (stateEvent, uint64) {
	s.gen++
	s.state.Status = StatusConnecting
	s.state.Topics = nil
	s.state.Attempts++
	return s.eventLocked(), s.gen
}

// endAttemptLocked invalidates the current attempt and detaches its conn.
// The caller must disconnect the returned conn after unlocking.
func (s *Session) endAttemptLocked() mqtt.Conn {
	s.gen++
	old := s.conn
	s.conn = nil
	return old
}

// scheduleRetryLocked arms the retry timer unless one is already pending.
func (s *Session) scheduleRetryLocked() {
	if s.timer != nil {
		return
	}
	s.retrySeq++
	seq := s.retrySeq
	s.timer = s.m.opts.Clock.AfterFunc(s.m.opts.RetryDelay, func() { s.retry(seq) })
}

func (s *Session) stopTimerLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}

// eventLocked snapshots the state for delivery and stamps its order.
func (s *Session) eventLocked() stateEvent {
	s.stateSeq++
	return stateEvent{st: s.snapshotLocked(), seq: s.stateSeq}
}

func (s *Session) snapshotLocked() State {
	st := s.state
	st.Topics = append([]string(nil), s.state.Topics...)
	st.Closed = s.closed
	return st
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
