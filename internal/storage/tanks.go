package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/tank-monitor/internal/tank"
)

// Tank is a registered tank. Geometry fields are flattened into the record.
type Tank struct {
	ID            string `json:"id" yaml:"id,omitempty"`
	UserID        string `json:"userId" yaml:"userId"`
	Name          string `json:"name" yaml:"name"`
	DeviceID      string `json:"deviceId,omitempty" yaml:"deviceId,omitempty"`
	tank.Geometry `yaml:",inline"`
	CreatedAt     time.Time `json:"createdAt" yaml:"-"`
}

type TankSQLite struct {
	db *sql.DB
}

func NewTankSQLite(db *sql.DB) *TankSQLite { return &TankSQLite{db: db} }

const (
	tankColumns = `id, user_id, name, device_id, shape, height, width, length, diameter, full_depth, daily_usage, created_at`

	insertTankSQL = `
		INSERT INTO tanks (` + tankColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectTankSQL = `SELECT ` + tankColumns + ` FROM tanks WHERE id = ?`

	selectTanksSQL = `SELECT ` + tankColumns + ` FROM tanks ORDER BY created_at ASC, id ASC`

	selectTanksByUserSQL = `SELECT ` + tankColumns + ` FROM tanks WHERE user_id = ? ORDER BY created_at ASC, id ASC`

	updateTankSQL = `
		UPDATE tanks SET name = ?, device_id = ?, shape = ?, height = ?, width = ?, length = ?,
			diameter = ?, full_depth = ?, daily_usage = ?
		WHERE id = ?
	`

	deleteTankSQL = `DELETE FROM tanks WHERE id = ?`
)

// Create inserts a tank. If ID or CreatedAt are empty, they're set.
func (r *TankSQLite) Create(ctx context.Context, t Tank) (Tank, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = nowOr(t.CreatedAt)

	_, err := r.db.ExecContext(ctx, insertTankSQL,
		t.ID,
		t.UserID,
		t.Name,
		nullString(t.DeviceID),
		string(t.Shape),
		nullable(t.Height),
		nullable(t.Width),
		nullable(t.Length),
		nullable(t.Diameter),
		nullable(t.FullDepth),
		nullable(t.DailyUsage),
		formatTime(t.CreatedAt),
	)
	if err != nil {
		return Tank{}, fmt.Errorf("insert tank: %w", err)
	}
	return t, nil
}

// Get loads one tank.
func (r *TankSQLite) Get(ctx context.Context, id string) (Tank, error) {
	t, err := scanTank(r.db.QueryRowContext(ctx, selectTankSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Tank{}, ErrNotFound
	}
	if err != nil {
		return Tank{}, fmt.Errorf("get tank %s: %w", id, err)
	}
	return t, nil
}

// List returns every tank, oldest first.
func (r *TankSQLite) List(ctx context.Context) ([]Tank, error) {
	return r.query(ctx, selectTanksSQL)
}

// ListByUser returns the user's tanks, oldest first.
func (r *TankSQLite) ListByUser(ctx context.Context, userID string) ([]Tank, error) {
	return r.query(ctx, selectTanksByUserSQL, userID)
}

// Update replaces the tank's name, device and geometry. Owner and creation
// time are immutable.
func (r *TankSQLite) Update(ctx context.Context, t Tank) error {
	res, err := r.db.ExecContext(ctx, updateTankSQL,
		t.Name,
		nullString(t.DeviceID),
		string(t.Shape),
		nullable(t.Height),
		nullable(t.Width),
		nullable(t.Length),
		nullable(t.Diameter),
		nullable(t.FullDepth),
		nullable(t.DailyUsage),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update tank %s: %w", t.ID, err)
	}
	return rowsAffected(res)
}

// Delete removes a tank together with its alerts, readings and alert log.
func (r *TankSQLite) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, deleteTankSQL, id)
	if err != nil {
		return fmt.Errorf("delete tank %s: %w", id, err)
	}
	return rowsAffected(res)
}

func (r *TankSQLite) query(ctx context.Context, q string, args ...any) ([]Tank, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tanks: %w", err)
	}
	defer rows.Close()

	out := make([]Tank, 0, 16)
	for rows.Next() {
		t, err := scanTank(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tank: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTank(s scanner) (Tank, error) {
	var (
		t                     Tank
		deviceID              sql.NullString
		shape, createdAt      string
		height, width, length sql.NullFloat64
		diameter, fullDepth   sql.NullFloat64
		dailyUsage            sql.NullFloat64
	)
	err := s.Scan(&t.ID, &t.UserID, &t.Name, &deviceID, &shape,
		&height, &width, &length, &diameter, &fullDepth, &dailyUsage, &createdAt)
	if err != nil {
		return Tank{}, err
	}

	t.DeviceID = deviceID.String
	t.Shape = tank.Shape(shape)
	t.Height = fromNull(height)
	t.Width = fromNull(width)
	t.Length = fromNull(length)
	t.Diameter = fromNull(diameter)
	t.FullDepth = fromNull(fullDepth)
	t.DailyUsage = fromNull(dailyUsage)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Tank{}, err
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
