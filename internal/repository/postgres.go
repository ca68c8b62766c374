package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

// PostgresStore implements ReadingStore and DeviceRegistry on sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore { return &PostgresStore{db: db} }

// NewPostgres returns Repos backed by db.
func NewPostgres(db *sqlx.DB) *Repos {
	s := NewPostgresStore(db)
	return New(s, s)
}

const insertReadingSQL = `INSERT INTO readings(device_id, energy_wh, power_w, voltage_v, current_a, ts)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`

func (s *PostgresStore) Insert(ctx context.Context, r *domain.Reading) error {
	var id int64
	err := s.db.QueryRowxContext(ctx, insertReadingSQL,
		r.DeviceID, r.EnergyWh, r.PowerW, r.VoltageV, r.CurrentA, r.Timestamp.UTC()).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	r.ID = strconv.FormatInt(id, 10)
	return nil
}

func (s *PostgresStore) InsertMany(ctx context.Context, rs []domain.Reading) (err error) {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PreparexContext(ctx, insertReadingSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(rs))
	for i, r := range rs {
		if err = stmt.QueryRowxContext(ctx,
			r.DeviceID, r.EnergyWh, r.PowerW, r.VoltageV, r.CurrentA, r.Timestamp.UTC()).Scan(&ids[i]); err != nil {
			return fmt.Errorf("insert reading %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit readings: %w", err)
	}
	for i := range rs {
		rs[i].ID = strconv.FormatInt(ids[i], 10)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f domain.ReadingFilter) ([]domain.Reading, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		where = append(where, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until.UTC())
		where = append(where, fmt.Sprintf("ts < $%d", len(args)))
	}

	var q strings.Builder
	q.WriteString(`SELECT id, device_id, energy_wh, power_w, voltage_v, current_a, ts FROM readings`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	dir := "DESC"
	if f.Order == domain.Asc {
		dir = "ASC"
	}
	q.WriteString(" ORDER BY ts " + dir + ", id " + dir)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	out := []domain.Reading{}
	if err := s.db.SelectContext(ctx, &out, q.String(), args...); err != nil {
		return nil, fmt.Errorf("select readings: %w", err)
	}
	return out, nil
}

const energySpansSQL = `SELECT DISTINCT device_id,
	first_value(energy_wh) OVER w AS first_wh,
	last_value(energy_wh) OVER w AS last_wh
FROM readings
WHERE ts >= $1
WINDOW w AS (PARTITION BY device_id ORDER BY ts, id ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING)
ORDER BY device_id`

func (s *PostgresStore) EnergySpans(ctx context.Context, since time.Time) ([]domain.EnergySpan, error) {
	out := []domain.EnergySpan{}
	if err := s.db.SelectContext(ctx, &out, energySpansSQL, since.UTC()); err != nil {
		return nil, fmt.Errorf("select energy spans: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListDevices(ctx context.Context) ([]domain.Device, error) {
	out := []domain.Device{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT device_id, user_id, name, type, status, registered_at FROM devices ORDER BY registered_at, device_id`)
	if err != nil {
		return nil, fmt.Errorf("select devices: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (domain.Device, error) {
	var d domain.Device
	err := s.db.GetContext(ctx, &d,
		`SELECT device_id, user_id, name, type, status, registered_at FROM devices WHERE device_id = $1`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Device{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Device{}, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) UpsertDevice(ctx context.Context, d domain.Device) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO devices(device_id, user_id, name, type, status, registered_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (device_id) DO UPDATE SET user_id = EXCLUDED.user_id, name = EXCLUDED.name,
	type = EXCLUDED.type, status = EXCLUDED.status`,
		d.DeviceID, d.UserID, d.Name, string(d.Type), string(d.Status), d.RegisteredAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}
