package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/sweeney/tank-monitor/internal/tank"
)

type AlertSQLite struct {
	db *sql.DB
}

func NewAlertSQLite(db *sql.DB) *AlertSQLite { return &AlertSQLite{db: db} }

const (
	insertAlertSQL = `INSERT INTO tank_alerts (id, tank_id, type, value) VALUES (?, ?, ?, ?)`

	selectAlertsSQL = `SELECT id, type, value FROM tank_alerts WHERE tank_id = ? ORDER BY rowid ASC`

	deleteAlertSQL = `DELETE FROM tank_alerts WHERE id = ? AND tank_id = ?`
)

// Add stores an alert rule under the tank. An empty rule ID is generated.
func (r *AlertSQLite) Add(ctx context.Context, tankID string, rule tank.AlertRule) (tank.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, err := r.db.ExecContext(ctx, insertAlertSQL, rule.ID, tankID, string(rule.Type), rule.Value); err != nil {
		return tank.AlertRule{}, fmt.Errorf("insert alert for tank %s: %w", tankID, err)
	}
	return rule, nil
}

// List returns the tank's alert rules in insertion order.
func (r *AlertSQLite) List(ctx context.Context, tankID string) ([]tank.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, selectAlertsSQL, tankID)
	if err != nil {
		return nil, fmt.Errorf("list alerts for tank %s: %w", tankID, err)
	}
	defer rows.Close()

	var out []tank.AlertRule
	for rows.Next() {
		var (
			rule tank.AlertRule
			typ  string
		)
		if err := rows.Scan(&rule.ID, &typ, &rule.Value); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		rule.Type = tank.AlertType(typ)
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes one alert rule from the tank.
func (r *AlertSQLite) Delete(ctx context.Context, tankID, alertID string) error {
	res, err := r.db.ExecContext(ctx, deleteAlertSQL, alertID, tankID)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", alertID, err)
	}
	return rowsAffected(res)
}
