// Package channel manages live telemetry sessions with the broker: connect,
// subscribe, dispatch, reconnect after a fixed delay, and teardown.
package channel

import (
	"errors"
	"time"

	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/tank"
)

// Status is the connection state of a session.
type Status string

const (
	StatusConnecting   Status = "Connecting"
	StatusConnected    Status = "Connected"
	StatusDisconnected Status = "Disconnected"
	StatusReconnecting Status = "Reconnecting"
)

var (
	// ErrNotConnected is returned when sending while the session is not Connected.
	// Sends are never queued.
	ErrNotConnected = errors.New("MQTT client is not connected")

	// ErrClosed is returned by operations on a session after Close.
	ErrClosed = errors.New("session closed")

	// ErrWrongScope is returned when a tank command is sent on a device session or vice versa.
	ErrWrongScope = errors.New("command not available on this session")
)

// State is a point-in-time view of a session.
// It is a value type, safe to use after the lock is released.
type State struct {
	Status    Status   `json:"status"`
	Broker    string   `json:"broker"`
	Topics    []string `json:"topics"`
	LastError string   `json:"last_error,omitempty"`
	Attempts  int      `json:"attempts"`
	Closed    bool     `json:"closed"`
}

// Text is the status line shown to the user.
func (s State) Text() string {
	switch s.Status {
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	}
	if s.LastError != "" {
		return s.LastError
	}
	if s.Status == StatusReconnecting {
		return "Reconnecting..."
	}
	return "Disconnected"
}

// Update is one decoded message delivered to a consumer.
type Update struct {
	TankID     string
	DeviceID   string
	Metric     mqtt.Metric
	Topic      string
	Raw        string
	Value      *float64             // nil when the payload is not a number
	Estimate   *tank.VolumeEstimate // level updates only
	PumpOn     *bool                // togglepump updates only
	Command    *mqtt.DeviceCommand  // device command echoes only
	ReceivedAt time.Time
}

// Consumer receives state changes and updates from a session. Callbacks run
// on transport goroutines, never while the session lock is held, and never
// concurrently for the same session. A callback must not call Close or
// Reconnect on its own session.
type Consumer interface {
	OnState(State)
	OnUpdate(Update)
}

// Funcs adapts plain functions to Consumer. Nil fields are skipped.
type Funcs struct {
	State  func(State)
	Update func(Update)
}

// OnState calls f.State if set.
func (f Funcs) OnState(s State) {
	if f.State != nil {
		f.State(s)
	}
}

// OnUpdate calls f.Update if set.
func (f Funcs) OnUpdate(u Update) {
	if f.Update != nil {
		f.Update(u)
	}
}

// Timer is a pending retry.
type Timer interface {
	Stop() bool
}

// Clock schedules deferred work. The real clock is time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}
