package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/tank-monitor/internal/tank"
)

// AlertEvent is an entry in a tank's alert log.
type AlertEvent struct {
	ID         string         `json:"id"`
	TankID     string         `json:"tankId"`
	Type       tank.AlertType `json:"type"`
	Value      float64        `json:"value"`
	Observed   float64        `json:"observed"`
	Message    string         `json:"message"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type EventSQLite struct {
	db *sql.DB
}

func NewEventSQLite(db *sql.DB) *EventSQLite { return &EventSQLite{db: db} }

const (
	insertEventSQL = `
		INSERT INTO alert_events (id, tank_id, type, value, observed, message, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	selectEventsSQL = `SELECT id, tank_id, type, value, observed, message, occurred_at FROM alert_events`
)

// Append inserts a new event. If ID or OccurredAt are empty, they're set.
func (r *EventSQLite) Append(ctx context.Context, e AlertEvent) (AlertEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.OccurredAt = nowOr(e.OccurredAt)

	_, err := r.db.ExecContext(ctx, insertEventSQL,
		e.ID,
		e.TankID,
		string(e.Type),
		e.Value,
		e.Observed,
		e.Message,
		formatTime(e.OccurredAt),
	)
	if err != nil {
		return AlertEvent{}, fmt.Errorf("insert alert event for tank %s: %w", e.TankID, err)
	}
	return e, nil
}

// List returns the tank's events filtered by [from, to] (inclusive), ordered ASC.
func (r *EventSQLite) List(ctx context.Context, tankID string, from, to time.Time) ([]AlertEvent, error) {
	conds := []string{"tank_id = ?"}
	args := []any{tankID}

	if !from.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, formatTime(to))
	}

	q := selectEventsSQL + " WHERE " + strings.Join(conds, " AND ") + " ORDER BY occurred_at ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alert events for tank %s: %w", tankID, err)
	}
	defer rows.Close()

	out := make([]AlertEvent, 0, 16)
	for rows.Next() {
		var (
			e          AlertEvent
			typ        string
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.TankID, &typ, &e.Value, &e.Observed, &e.Message, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		e.Type = tank.AlertType(typ)
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
