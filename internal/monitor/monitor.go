// Package monitor is the tank service: tank records, alert rules, history,
// and the registry of live channel sessions keyed by tank and device.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/tank-monitor/internal/channel"
	"github.com/sweeney/tank-monitor/internal/logger"
	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/status"
	"github.com/sweeney/tank-monitor/internal/storage"
	"github.com/sweeney/tank-monitor/internal/tank"
)

var (
	// ErrInvalid wraps request validation failures.
	ErrInvalid = errors.New("invalid request")

	// ErrNoSession is returned when no live session is open for the tank or device.
	ErrNoSession = errors.New("no live session")
)

// persistTimeout bounds writes made from session callbacks.
const persistTimeout = 5 * time.Second

// Service coordinates storage, live sessions and the status tracker.
type Service struct {
	repo    *storage.Repository
	manager *channel.Manager
	tracker *status.Tracker
	log     *logger.Logger

	mu      sync.Mutex
	tanks   map[string]*tankSession
	devices map[string]*channel.Session
}

// New creates a Service. Sessions are opened on demand.
func New(repo *storage.Repository, manager *channel.Manager, tracker *status.Tracker, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		manager: manager,
		tracker: tracker,
		log:     logger.OrNop(log).Named("monitor"),
		tanks:   make(map[string]*tankSession),
		devices: make(map[string]*channel.Session),
	}
}

// Tracker returns the live status tracker.
func (s *Service) Tracker() *status.Tracker {
	return s.tracker
}

// Load registers every stored tank with the tracker and, when open is set,
// opens a live session for each.
func (s *Service) Load(ctx context.Context, open bool) error {
	tanks, err := s.repo.Tanks.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range tanks {
		s.tracker.Track(t.ID, t.Name, t.Shape)
		if !open {
			continue
		}
		if _, err := s.OpenSession(ctx, t.ID); err != nil {
			return fmt.Errorf("open session for tank %s: %w", t.ID, err)
		}
	}
	s.log.Infow("tanks loaded", "count", len(tanks), "sessions", open)
	return nil
}

// Close tears down every live session.
func (s *Service) Close() {
	s.mu.Lock()
	tanks := s.tanks
	devices := s.devices
	s.tanks = make(map[string]*tankSession)
	s.devices = make(map[string]*channel.Session)
	s.mu.Unlock()

	for _, ts := range tanks {
		ts.session.Close()
	}
	for _, d := range devices {
		d.Close()
	}
}

// CreateTank validates and stores a new tank.
func (s *Service) CreateTank(ctx context.Context, t storage.Tank) (storage.Tank, error) {
	if err := ValidateTank(t); err != nil {
		return storage.Tank{}, err
	}
	created, err := s.repo.Tanks.Create(ctx, t)
	if err != nil {
		return storage.Tank{}, err
	}
	s.tracker.Track(created.ID, created.Name, created.Shape)
	s.log.Infow("tank created", "tank_id", created.ID, "shape", created.Shape)
	return created, nil
}

// GetTank loads one tank.
func (s *Service) GetTank(ctx context.Context, id string) (storage.Tank, error) {
	return s.repo.Tanks.Get(ctx, id)
}

// ListTanks returns the user's tanks, or every tank when userID is empty.
func (s *Service) ListTanks(ctx context.Context, userID string) ([]storage.Tank, error) {
	if userID == "" {
		return s.repo.Tanks.List(ctx)
	}
	return s.repo.Tanks.ListByUser(ctx, userID)
}

// UpdateTank stores new name, device and geometry; the owner is kept. A live
// session picks up the geometry from its next reading.
func (s *Service) UpdateTank(ctx context.Context, t storage.Tank) (storage.Tank, error) {
	existing, err := s.repo.Tanks.Get(ctx, t.ID)
	if err != nil {
		return storage.Tank{}, err
	}
	t.UserID = existing.UserID
	if err := ValidateTank(t); err != nil {
		return storage.Tank{}, err
	}
	if err := s.repo.Tanks.Update(ctx, t); err != nil {
		return storage.Tank{}, err
	}
	updated, err := s.repo.Tanks.Get(ctx, t.ID)
	if err != nil {
		return storage.Tank{}, err
	}
	if ts := s.tankSession(t.ID); ts != nil {
		ts.session.SetGeometry(updated.Geometry)
	}
	s.tracker.Track(updated.ID, updated.Name, updated.Shape)
	return updated, nil
}

// DeleteTank closes the tank's session and removes it with its history.
func (s *Service) DeleteTank(ctx context.Context, id string) error {
	if err := s.repo.Tanks.Delete(ctx, id); err != nil {
		return err
	}
	_ = s.CloseSession(id)
	s.tracker.Forget(id)
	s.log.Infow("tank deleted", "tank_id", id)
	return nil
}

// AddAlert stores an alert rule and applies it to the live session.
func (s *Service) AddAlert(ctx context.Context, tankID string, rule tank.AlertRule) (tank.AlertRule, error) {
	typ, err := tank.ParseAlertType(string(rule.Type))
	if err != nil {
		return tank.AlertRule{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	rule.Type = typ
	if _, err := s.repo.Tanks.Get(ctx, tankID); err != nil {
		return tank.AlertRule{}, err
	}
	added, err := s.repo.Alerts.Add(ctx, tankID, rule)
	if err != nil {
		return tank.AlertRule{}, err
	}
	s.refreshRules(ctx, tankID)
	return added, nil
}

// ListAlerts returns the tank's alert rules.
func (s *Service) ListAlerts(ctx context.Context, tankID string) ([]tank.AlertRule, error) {
	if _, err := s.repo.Tanks.Get(ctx, tankID); err != nil {
		return nil, err
	}
	return s.repo.Alerts.List(ctx, tankID)
}

// DeleteAlert removes an alert rule.
func (s *Service) DeleteAlert(ctx context.Context, tankID, alertID string) error {
	if err := s.repo.Alerts.Delete(ctx, tankID, alertID); err != nil {
		return err
	}
	s.refreshRules(ctx, tankID)
	return nil
}

// AlertEvents returns the tank's alert log in [from, to].
func (s *Service) AlertEvents(ctx context.Context, tankID string, from, to time.Time) ([]storage.AlertEvent, error) {
	if _, err := s.repo.Tanks.Get(ctx, tankID); err != nil {
		return nil, err
	}
	return s.repo.Events.List(ctx, tankID, from, to)
}

// Estimate computes the estimate for a distance against the stored geometry.
func (s *Service) Estimate(ctx context.Context, tankID string, distanceCm float64) (tank.VolumeEstimate, error) {
	t, err := s.repo.Tanks.Get(ctx, tankID)
	if err != nil {
		return tank.VolumeEstimate{}, err
	}
	return tank.Estimate(t.Geometry, distanceCm), nil
}

// Readings returns the tank's reading history.
func (s *Service) Readings(ctx context.Context, tankID string, from, to time.Time, limit int) ([]storage.Reading, error) {
	if _, err := s.repo.Tanks.Get(ctx, tankID); err != nil {
		return nil, err
	}
	return s.repo.Readings.List(ctx, tankID, from, to, limit)
}

// ValidateTank reports a missing name, owner or geometry field as ErrInvalid.
func ValidateTank(t storage.Tank) error {
	var problems []string
	if strings.TrimSpace(t.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(t.UserID) == "" {
		problems = append(problems, "userId is required")
	}
	if err := t.Geometry.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ParseCommand validates a device command from user input.
func ParseCommand(command, tankID string) (mqtt.DeviceCommand, error) {
	cmd := mqtt.DeviceCommand{Command: strings.ToLower(strings.TrimSpace(command)), TankID: strings.TrimSpace(tankID)}
	if err := cmd.Validate(); err != nil {
		return mqtt.DeviceCommand{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cmd, nil
}
