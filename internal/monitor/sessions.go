package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/sweeney/tank-monitor/internal/channel"
	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/storage"
	"github.com/sweeney/tank-monitor/internal/tank"
)

// tankSession is the consumer behind one tank's live session. It records
// level readings, evaluates alert rules and feeds the tracker.
type tankSession struct {
	svc     *Service
	tankID  string
	session *channel.Session

	mu       sync.Mutex
	rules    []tank.AlertRule
	previous *tank.VolumeEstimate
}

func (ts *tankSession) OnState(st channel.State) {
	ts.svc.tracker.SetChannel(ts.tankID, st)
}

func (ts *tankSession) OnUpdate(u channel.Update) {
	ts.svc.tracker.Apply(u)
	if u.Metric != mqtt.MetricLevel || u.Value == nil || u.Estimate == nil {
		return
	}

	ts.mu.Lock()
	fired := tank.EvaluateAlerts(ts.rules, ts.previous, *u.Estimate)
	est := *u.Estimate
	ts.previous = &est
	ts.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	log := ts.svc.log.With("tank_id", ts.tankID)
	if _, err := ts.svc.repo.Readings.Append(ctx, storage.Reading{
		TankID:         ts.tankID,
		DistanceCm:     *u.Value,
		ReceivedAt:     u.ReceivedAt,
		VolumeEstimate: est,
	}); err != nil {
		log.Warnw("failed to record reading", "error", err)
	}

	if len(fired) == 0 {
		return
	}
	ts.svc.tracker.RecordAlerts(ts.tankID, fired)
	for _, a := range fired {
		log.Infow("alert fired", "type", a.Type, "threshold", a.Threshold, "observed", a.Observed)
		if _, err := ts.svc.repo.Events.Append(ctx, storage.AlertEvent{
			TankID:     ts.tankID,
			Type:       a.Type,
			Value:      a.Threshold,
			Observed:   a.Observed,
			Message:    a.Message,
			OccurredAt: u.ReceivedAt,
		}); err != nil {
			log.Warnw("failed to record alert event", "error", err)
		}
	}
}

func (ts *tankSession) setRules(rules []tank.AlertRule) {
	ts.mu.Lock()
	ts.rules = rules
	ts.mu.Unlock()
}

// OpenSession starts a live session for the tank, or returns the state of
// the one already open.
func (s *Service) OpenSession(ctx context.Context, tankID string) (channel.State, error) {
	if ts := s.tankSession(tankID); ts != nil {
		return ts.session.State(), nil
	}

	t, err := s.repo.Tanks.Get(ctx, tankID)
	if err != nil {
		return channel.State{}, err
	}
	rules, err := s.repo.Alerts.List(ctx, tankID)
	if err != nil {
		return channel.State{}, err
	}
	ts := &tankSession{svc: s, tankID: tankID, rules: rules}
	if last, err := s.repo.Readings.Latest(ctx, tankID); err == nil {
		est := last.VolumeEstimate
		ts.previous = &est
	} else if !errors.Is(err, storage.ErrNotFound) {
		return channel.State{}, err
	}

	s.mu.Lock()
	if existing, ok := s.tanks[tankID]; ok {
		s.mu.Unlock()
		return existing.session.State(), nil
	}
	s.tanks[tankID] = ts
	s.tracker.Track(t.ID, t.Name, t.Shape)
	ts.session = s.manager.OpenTank(tankID, t.Geometry, nil, ts)
	s.mu.Unlock()

	return ts.session.State(), nil
}

// CloseSession tears down the tank's live session.
func (s *Service) CloseSession(tankID string) error {
	s.mu.Lock()
	ts, ok := s.tanks[tankID]
	delete(s.tanks, tankID)
	s.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	ts.session.Close()
	return nil
}

// SessionState returns the state of the tank's live session.
func (s *Service) SessionState(tankID string) (channel.State, error) {
	ts := s.tankSession(tankID)
	if ts == nil {
		return channel.State{}, ErrNoSession
	}
	return ts.session.State(), nil
}

// Reconnect forces the tank's session to reconnect now.
func (s *Service) Reconnect(tankID string) error {
	ts := s.tankSession(tankID)
	if ts == nil {
		return ErrNoSession
	}
	return ts.session.Reconnect()
}

// SetPump switches the tank's pump. The session must be Connected.
func (s *Service) SetPump(tankID string, on bool) error {
	ts := s.tankSession(tankID)
	if ts == nil {
		return ErrNoSession
	}
	if err := ts.session.SetPump(on); err != nil {
		return err
	}
	s.log.Infow("pump toggled", "tank_id", tankID, "on", on)
	return nil
}

// OpenDevice starts a command session for the device, or returns the state
// of the one already open.
func (s *Service) OpenDevice(deviceID string) channel.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.State()
	}
	d := s.manager.OpenDevice(deviceID, channel.Funcs{
		State: func(st channel.State) {
			s.log.Debugw("device session", "device_id", deviceID, "status", st.Status)
		},
	})
	s.devices[deviceID] = d
	return d.State()
}

// CloseDevice tears down the device's command session.
func (s *Service) CloseDevice(deviceID string) error {
	s.mu.Lock()
	d, ok := s.devices[deviceID]
	delete(s.devices, deviceID)
	s.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	d.Close()
	return nil
}

// DeviceState returns the state of the device's command session.
func (s *Service) DeviceState(deviceID string) (channel.State, error) {
	d := s.deviceSession(deviceID)
	if d == nil {
		return channel.State{}, ErrNoSession
	}
	return d.State(), nil
}

// SendCommand publishes an attach or detach command to the device.
func (s *Service) SendCommand(deviceID string, cmd mqtt.DeviceCommand) error {
	d := s.deviceSession(deviceID)
	if d == nil {
		return ErrNoSession
	}
	if err := d.SendDeviceCommand(cmd); err != nil {
		return err
	}
	s.log.Infow("device command sent", "device_id", deviceID, "command", cmd.Command, "tank_id", cmd.TankID)
	return nil
}

// DeviceMessages returns the messages received on the device's command topic.
func (s *Service) DeviceMessages(deviceID string) ([]channel.RecentMessage, error) {
	d := s.deviceSession(deviceID)
	if d == nil {
		return nil, ErrNoSession
	}
	return d.Recent(), nil
}

// ClearDeviceMessages empties the device's received message log.
func (s *Service) ClearDeviceMessages(deviceID string) error {
	d := s.deviceSession(deviceID)
	if d == nil {
		return ErrNoSession
	}
	d.ClearRecent()
	return nil
}

func (s *Service) tankSession(tankID string) *tankSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tanks[tankID]
}

func (s *Service) deviceSession(deviceID string) *channel.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[deviceID]
}

func (s *Service) refreshRules(ctx context.Context, tankID string) {
	ts := s.tankSession(tankID)
	if ts == nil {
		return
	}
	rules, err := s.repo.Alerts.List(ctx, tankID)
	if err != nil {
		s.log.Warnw("failed to reload alert rules", "tank_id", tankID, "error", err)
		return
	}
	ts.setRules(rules)
}
