// Package storage is the SQLite document store for tanks, their alert rules,
// reading history and the alert log.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/tank-monitor/internal/tank"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type TankRepo interface {
	Create(ctx context.Context, t Tank) (Tank, error)
	Get(ctx context.Context, id string) (Tank, error)
	List(ctx context.Context) ([]Tank, error)
	ListByUser(ctx context.Context, userID string) ([]Tank, error)
	Update(ctx context.Context, t Tank) error
	Delete(ctx context.Context, id string) error
}

type AlertRepo interface {
	Add(ctx context.Context, tankID string, rule tank.AlertRule) (tank.AlertRule, error)
	List(ctx context.Context, tankID string) ([]tank.AlertRule, error)
	Delete(ctx context.Context, tankID, alertID string) error
}

type ReadingRepo interface {
	Append(ctx context.Context, r Reading) (Reading, error)
	List(ctx context.Context, tankID string, from, to time.Time, limit int) ([]Reading, error)
	Latest(ctx context.Context, tankID string) (Reading, error)
}

type EventRepo interface {
	Append(ctx context.Context, e AlertEvent) (AlertEvent, error)
	List(ctx context.Context, tankID string, from, to time.Time) ([]AlertEvent, error)
}

// Repository groups the repositories backed by one database.
type Repository struct {
	Tanks    TankRepo
	Alerts   AlertRepo
	Readings ReadingRepo
	Events   EventRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Tanks:    NewTankSQLite(db),
		Alerts:   NewAlertSQLite(db),
		Readings: NewReadingSQLite(db),
		Events:   NewEventSQLite(db),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// nowOr returns t in UTC, or the current time when t is zero.
func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// rowsAffected maps a zero-row write to ErrNotFound.
func rowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
