package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/tank-monitor/internal/tank"
)

// Reading is one level reading with the estimate derived from it.
type Reading struct {
	ID         string    `json:"id"`
	TankID     string    `json:"tankId"`
	DistanceCm float64   `json:"distance_cm"`
	ReceivedAt time.Time `json:"received_at"`
	tank.VolumeEstimate
}

type ReadingSQLite struct {
	db *sql.DB
}

func NewReadingSQLite(db *sql.DB) *ReadingSQLite { return &ReadingSQLite{db: db} }

const (
	insertReadingSQL = `
		INSERT INTO readings (id, tank_id, distance_cm, volume_l, fill_pct, days_left, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	selectReadingsSQL = `SELECT id, tank_id, distance_cm, volume_l, fill_pct, days_left, received_at FROM readings`

	selectLatestReadingSQL = selectReadingsSQL + ` WHERE tank_id = ? ORDER BY received_at DESC LIMIT 1`
)

// Append stores a reading. If ID or ReceivedAt are empty, they're set.
func (r *ReadingSQLite) Append(ctx context.Context, rd Reading) (Reading, error) {
	if rd.ID == "" {
		rd.ID = uuid.NewString()
	}
	rd.ReceivedAt = nowOr(rd.ReceivedAt)

	_, err := r.db.ExecContext(ctx, insertReadingSQL,
		rd.ID,
		rd.TankID,
		rd.DistanceCm,
		nullable(rd.VolumeLiters),
		nullable(rd.FillPercent),
		nullable(rd.DaysUntilEmpty),
		formatTime(rd.ReceivedAt),
	)
	if err != nil {
		return Reading{}, fmt.Errorf("insert reading for tank %s: %w", rd.TankID, err)
	}
	return rd, nil
}

// List returns the tank's readings in [from, to] (either bound may be zero),
// oldest first. A positive limit keeps only the most recent readings.
func (r *ReadingSQLite) List(ctx context.Context, tankID string, from, to time.Time, limit int) ([]Reading, error) {
	conds := []string{"tank_id = ?"}
	args := []any{tankID}

	if !from.IsZero() {
		conds = append(conds, "received_at >= ?")
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		conds = append(conds, "received_at <= ?")
		args = append(args, formatTime(to))
	}

	q := selectReadingsSQL + " WHERE " + strings.Join(conds, " AND ")
	if limit > 0 {
		// Newest N, returned oldest first
		q = "SELECT * FROM (" + q + " ORDER BY received_at DESC LIMIT ?) ORDER BY received_at ASC"
		args = append(args, limit)
	} else {
		q += " ORDER BY received_at ASC"
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list readings for tank %s: %w", tankID, err)
	}
	defer rows.Close()

	out := make([]Reading, 0, 64)
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the tank's most recent reading.
func (r *ReadingSQLite) Latest(ctx context.Context, tankID string) (Reading, error) {
	rd, err := scanReading(r.db.QueryRowContext(ctx, selectLatestReadingSQL, tankID))
	if errors.Is(err, sql.ErrNoRows) {
		return Reading{}, ErrNotFound
	}
	if err != nil {
		return Reading{}, fmt.Errorf("latest reading for tank %s: %w", tankID, err)
	}
	return rd, nil
}

func scanReading(s scanner) (Reading, error) {
	var (
		rd                     Reading
		volume, fill, daysLeft sql.NullFloat64
		receivedAt             string
	)
	if err := s.Scan(&rd.ID, &rd.TankID, &rd.DistanceCm, &volume, &fill, &daysLeft, &receivedAt); err != nil {
		return Reading{}, err
	}
	rd.VolumeLiters = fromNull(volume)
	rd.FillPercent = fromNull(fill)
	rd.DaysUntilEmpty = fromNull(daysLeft)

	var err error
	if rd.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return Reading{}, err
	}
	return rd, nil
}
