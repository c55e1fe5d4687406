package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Repository persists devices, cards, shifts and attendance logs in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DeviceByID loads a registered device.
func (r *Repository) DeviceByID(ctx context.Context, id uuid.UUID) (Device, error) {
	var d Device
	err := r.db.QueryRowContext(ctx, `
		SELECT id, api_key_hash, COALESCE(zone_id, '')
		FROM iot_devices
		WHERE id = $1
	`, id).Scan(&d.ID, &d.APIKeyHash, &d.ZoneID)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	return d, nil
}

// ActiveCard resolves an active card by tag.
func (r *Repository) ActiveCard(ctx context.Context, uid string) (Card, error) {
	c := Card{UID: uid}
	err := r.db.QueryRowContext(ctx, `
		SELECT worker_id, is_active
		FROM rfid_cards
		WHERE rfid_uid = $1 AND is_active = TRUE
	`, uid).Scan(&c.WorkerID, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	if err != nil {
		return Card{}, err
	}
	return c, nil
}

// ActiveShift returns the most recently opened shift of the worker that has
// no check-out, or nil.
func (r *Repository) ActiveShift(ctx context.Context, workerID string) (*Shift, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE worker_id = $1 AND check_out_time IS NULL
		ORDER BY check_in_time DESC
		LIMIT 1
	`, workerID)
	s, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CheckIn opens a shift and appends the IN log in one transaction. The partial
// unique index on open shifts turns a concurrent second check-in into ErrConflict.
func (r *Repository) CheckIn(ctx context.Context, shift Shift, entry LogEntry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO shifts (id, worker_id, zone_id, check_in_time)
			VALUES ($1, $2, NULLIF($3, ''), $4)
		`, shift.ID, shift.WorkerID, shift.ZoneID, shift.CheckIn)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert shift: %w", err)
		}
		return appendLog(ctx, tx, entry)
	})
}

// CheckOut closes the shift only while it is still open and owned by the
// worker, then appends the OUT log. Zero affected rows means another tap closed
// it first.
func (r *Repository) CheckOut(ctx context.Context, shiftID, workerID string, at time.Time, hours float64, entry LogEntry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE shifts
			SET check_out_time = $3, total_hours = $4
			WHERE id = $1 AND worker_id = $2 AND check_out_time IS NULL
		`, shiftID, workerID, at, hours)
		if err != nil {
			return fmt.Errorf("close shift: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("close shift: %w", err)
		}
		if n == 0 {
			return ErrConflict
		}
		return appendLog(ctx, tx, entry)
	})
}

func appendLog(ctx context.Context, tx *sql.Tx, e LogEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_logs (id, worker_id, device_id, rfid_uid, tap_type, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.WorkerID, e.DeviceID, e.RFIDUID, string(e.Direction), e.At)
	if err != nil {
		return fmt.Errorf("append attendance log: %w", err)
	}
	return nil
}

func (r *Repository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const shiftColumns = `id, worker_id, COALESCE(zone_id, ''), check_in_time, check_out_time, total_hours`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(row rowScanner) (Shift, error) {
	var (
		s     Shift
		out   sql.NullTime
		hours sql.NullFloat64
	)
	if err := row.Scan(&s.ID, &s.WorkerID, &s.ZoneID, &s.CheckIn, &out, &hours); err != nil {
		return Shift{}, err
	}
	s.CheckIn = s.CheckIn.UTC()
	if out.Valid {
		t := out.Time.UTC()
		s.CheckOut = &t
	}
	if hours.Valid {
		h := hours.Float64
		s.TotalHours = &h
	}
	return s, nil
}

// ListShifts returns shifts newest first.
func (r *Repository) ListShifts(ctx context.Context, f ShiftFilter) ([]Shift, error) {
	var q filterQuery
	if f.WorkerID != "" {
		q.where("worker_id = ", f.WorkerID)
	}
	if f.ZoneID != "" {
		q.where("zone_id = ", f.ZoneID)
	}
	if f.OpenOnly {
		q.clauses = append(q.clauses, "check_out_time IS NULL")
	}
	limit, offset := page(f.Limit, f.Offset)
	query := `SELECT ` + shiftColumns + ` FROM shifts` + q.sql() + ` ORDER BY check_in_time DESC` + q.page(limit, offset)

	rows, err := r.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// OpenShifts returns every open shift, optionally restricted to a zone.
func (r *Repository) OpenShifts(ctx context.Context, zoneID string) ([]Shift, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE check_out_time IS NULL AND ($1 = '' OR zone_id = $1)
		ORDER BY check_in_time
	`, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListLogs returns attendance log entries newest first.
func (r *Repository) ListLogs(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	var q filterQuery
	if f.WorkerID != "" {
		q.where("worker_id = ", f.WorkerID)
	}
	if f.DeviceID != "" {
		id, err := uuid.Parse(f.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("device_id filter: %w", err)
		}
		q.where("device_id = ", id)
	}
	limit, offset := page(f.Limit, f.Offset)
	query := `SELECT id, worker_id, device_id, rfid_uid, tap_type, "timestamp" FROM attendance_logs` +
		q.sql() + ` ORDER BY "timestamp" DESC` + q.page(limit, offset)

	rows, err := r.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []LogEntry
	for rows.Next() {
		var (
			e   LogEntry
			dir string
		)
		if err := rows.Scan(&e.ID, &e.WorkerID, &e.DeviceID, &e.RFIDUID, &dir, &e.At); err != nil {
			return nil, err
		}
		e.Direction = Direction(dir)
		e.At = e.At.UTC()
		res = append(res, e)
	}
	return res, rows.Err()
}

type filterQuery struct {
	clauses []string
	args    []any
}

func (q *filterQuery) where(prefix string, arg any) {
	q.args = append(q.args, arg)
	q.clauses = append(q.clauses, prefix+"$"+strconv.Itoa(len(q.args)))
}

func (q *filterQuery) sql() string {
	if len(q.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.clauses, " AND ")
}

func (q *filterQuery) page(limit, offset int) string {
	q.args = append(q.args, limit, offset)
	n := len(q.args)
	return " LIMIT $" + strconv.Itoa(n-1) + " OFFSET $" + strconv.Itoa(n)
}

// UpsertZone creates or renames a zone.
func (r *Repository) UpsertZone(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO zones (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, id, name)
	return err
}

// UpsertWorker creates or renames a worker.
func (r *Repository) UpsertWorker(ctx context.Context, id, fullName string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workers (id, full_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name
	`, id, fullName)
	return err
}

// RegisterDevice stores a device with the bcrypt hash of its key. Re-registering
// an id rotates its key and zone.
func (r *Repository) RegisterDevice(ctx context.Context, id uuid.UUID, keyHash, zoneID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO iot_devices (id, api_key_hash, zone_id)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE SET api_key_hash = EXCLUDED.api_key_hash, zone_id = EXCLUDED.zone_id
	`, id, keyHash, zoneID)
	return err
}

// AssignCard binds a tag to a worker and activates it.
func (r *Repository) AssignCard(ctx context.Context, uid, workerID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rfid_cards (rfid_uid, worker_id, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (rfid_uid) DO UPDATE SET worker_id = EXCLUDED.worker_id, is_active = TRUE, updated_at = NOW()
	`, uid, workerID)
	return err
}

// DeactivateCard disables a tag. Unknown tags return ErrNotFound.
func (r *Repository) DeactivateCard(ctx context.Context, uid string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rfid_cards SET is_active = FALSE, updated_at = NOW() WHERE rfid_uid = $1
	`, uid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate card: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
