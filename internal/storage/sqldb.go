package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/julianstephens/wayfare/internal/actions"
	"github.com/julianstephens/wayfare/internal/models"
)

// DB implements the data half of Provider over database/sql. Backends embed
// it and supply the connection plus their placeholder style.
type DB struct {
	db     *sql.DB
	rebind func(string) string
}

// NewDB wraps db. A nil rebind keeps ? placeholders.
func NewDB(db *sql.DB, rebind func(string) string) *DB {
	if rebind == nil {
		rebind = func(q string) string { return q }
	}
	return &DB{db: db, rebind: rebind}
}

// SQL returns the underlying connection.
func (d *DB) SQL() *sql.DB { return d.db }

// Rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	return d.db.Exec(d.rebind(query), args...)
}

func (d *DB) queryRow(query string, args ...any) *sql.Row {
	return d.db.QueryRow(d.rebind(query), args...)
}

func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.db.Query(d.rebind(query), args...)
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (d *DB) SaveItinerary(it *models.Itinerary) error {
	if it == nil {
		return errors.New("nil itinerary")
	}
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to encode itinerary %s: %w", it.TripID, err)
	}
	updated := it.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = d.exec(`
		INSERT INTO itineraries (trip_id, version, title, day_count, data, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (trip_id, version) DO UPDATE SET
			title = excluded.title,
			day_count = excluded.day_count,
			data = excluded.data,
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		it.TripID, it.Version, it.Title, len(it.Days), string(data), updated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save itinerary %s v%d: %w", it.TripID, it.Version, err)
	}
	return nil
}

func (d *DB) GetItinerary(tripID string) (*models.Itinerary, error) {
	row := d.queryRow(`
		SELECT data FROM itineraries
		WHERE trip_id = ? AND deleted_at IS NULL
		ORDER BY version DESC LIMIT 1`, tripID)
	return scanItinerary(row, tripID)
}

func (d *DB) GetItineraryVersion(tripID string, version int) (*models.Itinerary, error) {
	row := d.queryRow(`
		SELECT data FROM itineraries
		WHERE trip_id = ? AND version = ? AND deleted_at IS NULL`, tripID, version)
	return scanItinerary(row, tripID)
}

func scanItinerary(row *sql.Row, tripID string) (*models.Itinerary, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
		}
		return nil, err
	}
	var it models.Itinerary
	if err := json.Unmarshal([]byte(data), &it); err != nil {
		return nil, fmt.Errorf("failed to decode itinerary %s: %w", tripID, err)
	}
	return &it, nil
}

func (d *DB) ListTrips() ([]TripSummary, error) {
	rows, err := d.query(`
		SELECT i.trip_id, i.title, i.version, i.day_count, i.updated_at
		FROM itineraries i
		WHERE i.deleted_at IS NULL AND i.version = (
			SELECT MAX(v.version) FROM itineraries v
			WHERE v.trip_id = i.trip_id AND v.deleted_at IS NULL)
		ORDER BY i.trip_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []TripSummary
	for rows.Next() {
		var t TripSummary
		var updated string
		if err := rows.Scan(&t.TripID, &t.Title, &t.Version, &t.Days, &updated); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at for trip %s: %w", t.TripID, err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// DeleteItinerary soft-deletes every version of the trip and drops its
// execution record and undo history.
func (d *DB) DeleteItinerary(tripID string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec(d.rebind(`UPDATE itineraries SET deleted_at = ? WHERE trip_id = ? AND deleted_at IS NULL`), now(), tripID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	for _, q := range []string{
		`DELETE FROM execution_records WHERE trip_id = ?`,
		`DELETE FROM undo_log WHERE trip_id = ?`,
	} {
		if _, err := tx.Exec(d.rebind(q), tripID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) SaveExecutionRecord(rec models.ExecutionRecord) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode execution record: %w", err)
	}
	_, err = d.exec(`
		INSERT INTO execution_records (trip_id, day_index, data, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (trip_id) DO UPDATE SET
			day_index = excluded.day_index,
			data = excluded.data,
			saved_at = excluded.saved_at`,
		rec.TripID, rec.DayIndex, string(data), rec.SavedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save execution record for %s: %w", rec.TripID, err)
	}
	return nil
}

func (d *DB) GetExecutionRecord(tripID string) (models.ExecutionRecord, error) {
	var data string
	err := d.queryRow(`SELECT data FROM execution_records WHERE trip_id = ?`, tripID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutionRecord{}, fmt.Errorf("execution record for %s: %w", tripID, ErrNotFound)
	}
	if err != nil {
		return models.ExecutionRecord{}, err
	}
	var rec models.ExecutionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return models.ExecutionRecord{}, fmt.Errorf("failed to decode execution record for %s: %w", tripID, err)
	}
	return rec, nil
}

func (d *DB) DeleteExecutionRecord(tripID string) error {
	_, err := d.exec(`DELETE FROM execution_records WHERE trip_id = ?`, tripID)
	return err
}

func (d *DB) AppendTransition(tripID string, t models.Transition) error {
	_, err := d.exec(`
		INSERT INTO transitions (trip_id, day_index, slot_id, from_state, to_state, triggered_by, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tripID, t.DayIndex, t.SlotID, string(t.From), string(t.To), string(t.Trigger), t.At.UTC().Format(time.RFC3339Nano))
	return err
}

// GetTransitions returns the day's transitions in the order they happened.
func (d *DB) GetTransitions(tripID string, dayIndex int) ([]models.Transition, error) {
	rows, err := d.query(`
		SELECT slot_id, day_index, from_state, to_state, triggered_by, at
		FROM transitions
		WHERE trip_id = ? AND day_index = ?
		ORDER BY id`, tripID, dayIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transition
	for rows.Next() {
		var t models.Transition
		var from, to, trigger, at string
		if err := rows.Scan(&t.SlotID, &t.DayIndex, &from, &to, &trigger, &at); err != nil {
			return nil, err
		}
		t.From, t.To, t.Trigger = models.ActivityState(from), models.ActivityState(to), models.Trigger(trigger)
		if t.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("failed to parse transition time: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) PushUndo(tripID string, in actions.Intent) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode undo intent: %w", err)
	}
	_, err = d.exec(`INSERT INTO undo_log (trip_id, intent, created_at) VALUES (?, ?, ?)`, tripID, string(data), now())
	return err
}

// PopUndo removes and returns the newest undo intent of the trip.
func (d *DB) PopUndo(tripID string) (actions.Intent, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return actions.Intent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var data string
	err = tx.QueryRow(d.rebind(`SELECT id, intent FROM undo_log WHERE trip_id = ? ORDER BY id DESC LIMIT 1`), tripID).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return actions.Intent{}, fmt.Errorf("undo history for %s: %w", tripID, ErrNotFound)
	}
	if err != nil {
		return actions.Intent{}, err
	}
	var in actions.Intent
	if err := json.Unmarshal([]byte(data), &in); err != nil {
		return actions.Intent{}, fmt.Errorf("failed to decode undo intent: %w", err)
	}
	if _, err := tx.Exec(d.rebind(`DELETE FROM undo_log WHERE id = ?`), id); err != nil {
		return actions.Intent{}, err
	}
	return in, tx.Commit()
}
