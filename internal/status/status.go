// Package status provides a thread-safe view of every monitored tank.
// It is read by HTTP handlers and fed by channel session consumers.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/tank-monitor/internal/channel"
	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/tank"
)

// subscriberBuffer is the per-subscriber queue length. Slow subscribers miss
// views rather than blocking the session that produced them.
const subscriberBuffer = 16

// maxRecentAlerts bounds the alerts kept per tank for display.
const maxRecentAlerts = 10

// Config contains service configuration for display.
type Config struct {
	Broker       string
	HTTPAddr     string
	RetryDelayMs int64
	Database     string
}

// TankView is the live state of one tank.
// It is a value type, safe to use after the lock is released.
type TankView struct {
	ID      string
	Name    string
	Shape   tank.Shape
	Channel channel.State

	DistanceCm  *float64
	Estimate    tank.VolumeEstimate
	Temperature *float64
	PH          *float64
	TDS         *float64
	Turbidity   *float64
	Flow        *float64
	PumpOn      *bool

	LastReading time.Time
	Alerts      []tank.Alert // most recent first
}

// Snapshot is a point-in-time view of the service state.
type Snapshot struct {
	Tanks     []TankView // sorted by ID
	StartTime time.Time
	Now       time.Time
	Config    Config
}

// Uptime returns the duration since the service started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Connected returns how many tanks have a Connected session.
func (s Snapshot) Connected() int {
	n := 0
	for _, tv := range s.Tanks {
		if tv.Channel.Status == channel.StatusConnected {
			n++
		}
	}
	return n
}

// Tracker holds mutable per-tank state behind an RWMutex and fans out
// changes to subscribers.
type Tracker struct {
	mu    sync.RWMutex
	start time.Time
	cfg   Config
	tanks map[string]*TankView
	subs  map[string]map[chan TankView]struct{}
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		start: startTime,
		cfg:   cfg,
		tanks: make(map[string]*TankView),
		subs:  make(map[string]map[chan TankView]struct{}),
	}
}

// Track registers a tank, or renames it if already tracked.
func (t *Tracker) Track(id, name string, shape tank.Shape) {
	t.mu.Lock()
	tv, ok := t.tanks[id]
	if !ok {
		tv = &TankView{ID: id, Channel: channel.State{Status: channel.StatusDisconnected}}
		t.tanks[id] = tv
	}
	tv.Name = name
	tv.Shape = shape
	t.publishLocked(tv)
	t.mu.Unlock()
}

// Forget drops a tank and closes its subscribers.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	delete(t.tanks, id)
	for ch := range t.subs[id] {
		close(ch)
	}
	delete(t.subs, id)
	t.mu.Unlock()
}

// SetChannel records the session state for a tracked tank.
func (t *Tracker) SetChannel(id string, st channel.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tv, ok := t.tanks[id]
	if !ok {
		return
	}
	tv.Channel = st
	t.publishLocked(tv)
}

// Apply folds a session update into the tank's view. Unavailable values
// overwrite earlier ones so the display never shows a stale reading as current.
// Updates for a tank that is not tracked are dropped.
func (t *Tracker) Apply(u channel.Update) {
	if u.TankID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tv, ok := t.tanks[u.TankID]
	if !ok {
		return
	}
	switch u.Metric {
	case mqtt.MetricLevel:
		tv.DistanceCm = u.Value
		if u.Estimate != nil {
			tv.Estimate = *u.Estimate
		}
		tv.LastReading = u.ReceivedAt
	case mqtt.MetricTemperature:
		tv.Temperature = u.Value
	case mqtt.MetricPH:
		tv.PH = u.Value
	case mqtt.MetricTDS:
		tv.TDS = u.Value
	case mqtt.MetricTurbidity:
		tv.Turbidity = u.Value
	case mqtt.MetricFlow:
		tv.Flow = u.Value
	case mqtt.MetricPump:
		if u.PumpOn == nil {
			return
		}
		tv.PumpOn = u.PumpOn
	default:
		return
	}
	t.publishLocked(tv)
}

// RecordAlerts prepends fired alerts to the tank's recent list.
func (t *Tracker) RecordAlerts(id string, alerts []tank.Alert) {
	if len(alerts) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tv, ok := t.tanks[id]
	if !ok {
		return
	}
	merged := make([]tank.Alert, 0, len(alerts)+len(tv.Alerts))
	for i := len(alerts) - 1; i >= 0; i-- {
		merged = append(merged, alerts[i])
	}
	merged = append(merged, tv.Alerts...)
	if len(merged) > maxRecentAlerts {
		merged = merged[:maxRecentAlerts]
	}
	tv.Alerts = merged
	t.publishLocked(tv)
}

// Tank returns the view of one tank.
func (t *Tracker) Tank(id string) (TankView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tv, ok := t.tanks[id]
	if !ok {
		return TankView{}, false
	}
	return copyView(tv), true
}

// Subscribe returns a channel receiving the tank's view after every change,
// starting with the current view if the tank is tracked. The channel is
// closed by cancel or when the tank is forgotten.
func (t *Tracker) Subscribe(id string) (<-chan TankView, func()) {
	ch := make(chan TankView, subscriberBuffer)

	t.mu.Lock()
	if t.subs[id] == nil {
		t.subs[id] = make(map[chan TankView]struct{})
	}
	t.subs[id][ch] = struct{}{}
	if tv, ok := t.tanks[id]; ok {
		ch <- copyView(tv)
	}
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[id][ch]; ok {
				delete(t.subs[id], ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Snapshot returns a point-in-time copy of the service state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		Tanks:     make([]TankView, 0, len(t.tanks)),
		StartTime: t.start,
		Config:    t.cfg,
	}
	for _, tv := range t.tanks {
		s.Tanks = append(s.Tanks, copyView(tv))
	}
	t.mu.RUnlock()

	sort.Slice(s.Tanks, func(i, j int) bool { return s.Tanks[i].ID < s.Tanks[j].ID })
	s.Now = time.Now()
	return s
}

func (t *Tracker) publishLocked(tv *TankView) {
	if len(t.subs[tv.ID]) == 0 {
		return
	}
	v := copyView(tv)
	for ch := range t.subs[tv.ID] {
		select {
		case ch <- v:
		default:
		}
	}
}

func copyView(tv *TankView) TankView {
	v := *tv
	v.Alerts = append([]tank.Alert(nil), tv.Alerts...)
	v.Channel.Topics = append([]string(nil), tv.Channel.Topics...)
	return v
}
