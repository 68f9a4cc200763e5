package channel

import (
	"time"

	"github.com/sweeney/tank-monitor/internal/logger"
	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/tank"
)

// Defaults applied by NewManager.
const (
	DefaultRetryDelay  = 5 * time.Second
	DefaultRecentLimit = 50
)

// Options configures a Manager. Zero values take defaults.
type Options struct {
	RetryDelay  time.Duration
	RecentLimit int

	Clock  Clock            // retry timers
	Spawn  func(fn func())  // runs connect attempts; default is a new goroutine
	Now    func() time.Time // receive timestamps
	Logger *logger.Logger
}

// Manager opens sessions against one broker.
type Manager struct {
	dialer mqtt.Dialer
	opts   Options
	log    *logger.Logger
}

// NewManager creates a Manager that dials through d.
func NewManager(d mqtt.Dialer, opts Options) *Manager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultRecentLimit
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Spawn == nil {
		opts.Spawn = func(fn func()) { go fn() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		dialer: d,
		opts:   opts,
		log:    logger.OrNop(opts.Logger).Named("channel"),
	}
}

// Broker returns the broker URL sessions connect to.
func (m *Manager) Broker() string {
	return m.dialer.Broker()
}

// RetryDelay returns the fixed delay between failed attempts.
func (m *Manager) RetryDelay() time.Duration {
	return m.opts.RetryDelay
}

// OpenTank starts a session subscribed to the tank's metric topics.
// A nil metrics slice subscribes to every metric. The caller must Close it.
func (m *Manager) OpenTank(tankID string, g tank.Geometry, metrics []mqtt.Metric, c Consumer) *Session {
	if metrics == nil {
		metrics = mqtt.AllMetrics
	}
	s := newSession(m, c, mqtt.TankTopics(tankID, metrics))
	s.tankID = tankID
	s.scope = mqtt.TankScope(tankID)
	s.geometry = g
	s.log = m.log.With("tank_id", tankID)
	s.start()
	return s
}

// OpenDevice starts a session on the device's command topic. The caller must Close it.
func (m *Manager) OpenDevice(deviceID string, c Consumer) *Session {
	s := newSession(m, c, []string{mqtt.DeviceCommandTopic(deviceID)})
	s.deviceID = deviceID
	s.scope = mqtt.DeviceScope(deviceID)
	s.log = m.log.With("device_id", deviceID)
	s.start()
	return s
}

// WithTank opens a tank session, runs fn, and closes the session on every
// return path, including a panic in fn.
func (m *Manager) WithTank(tankID string, g tank.Geometry, metrics []mqtt.Metric, c Consumer, fn func(*Session) error) error {
	s := m.OpenTank(tankID, g, metrics, c)
	defer s.Close()
	return fn(s)
}
