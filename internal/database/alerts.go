package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
)

const alertColumns = `a.id, a.alert_date, a.attended, a.station_id, a.created_at`

const pollutantColumns = `p.id, p.alert_id, p.pollutant, p.level, p.recorded_at`

// AlertFilter narrows alert listings. Zero values are ignored.
type AlertFilter struct {
	StationID    int64
	Attended     *bool
	DateAfter    *time.Time
	DateBefore   *time.Time
	HasPollutant string
}

// AlertPollutantFilter narrows alert pollutant listings.
type AlertPollutantFilter struct {
	AlertID        int64
	Pollutant      string
	LevelMin       *float64
	LevelMax       *float64
	RecordedAfter  *time.Time
	RecordedBefore *time.Time
}

func scanAlert(row interface{ Scan(...any) error }) (*Alert, error) {
	var a Alert
	if err := row.Scan(&a.ID, &a.AlertDate, &a.Attended, &a.StationID, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Pollutants = []*AlertPollutant{}
	return &a, nil
}

func scanPollutant(row interface{ Scan(...any) error }) (*AlertPollutant, error) {
	var p AlertPollutant
	if err := row.Scan(&p.ID, &p.AlertID, &p.Pollutant, &p.Level, &p.RecordedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func validatePollutants(pollutants []*AlertPollutant) error {
	for _, p := range pollutants {
		if !ValidPollutant(p.Pollutant) {
			return apperr.Invalidf("unknown pollutant %q", p.Pollutant)
		}
	}
	return nil
}

func insertPollutants(ctx context.Context, q querier, alertID int64, pollutants []*AlertPollutant) error {
	for _, p := range pollutants {
		p.AlertID = alertID
		err := q.QueryRowContext(ctx, `
			INSERT INTO alert_pollutants (alert_id, pollutant, level)
			VALUES ($1, $2, $3)
			RETURNING id, recorded_at
		`, alertID, p.Pollutant, p.Level).Scan(&p.ID, &p.RecordedAt)
		if err != nil {
			return translate(err, fmt.Sprintf("pollutant reading for alert %d", alertID))
		}
	}
	return nil
}

// CreateAlert inserts an alert together with its pollutant readings.
func (db *DB) CreateAlert(ctx context.Context, a *Alert, pollutants []*AlertPollutant) error {
	if err := validatePollutants(pollutants); err != nil {
		return err
	}
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO alerts (attended, station_id)
			VALUES ($1, $2)
			RETURNING id, alert_date, created_at
		`, a.Attended, a.StationID).Scan(&a.ID, &a.AlertDate, &a.CreatedAt)
		if err != nil {
			return translate(err, fmt.Sprintf("alert for station %d", a.StationID))
		}
		if err := insertPollutants(ctx, tx, a.ID, pollutants); err != nil {
			return err
		}
		a.Pollutants = append([]*AlertPollutant{}, pollutants...)
		return nil
	})
}

// AddAlertPollutants appends readings to an existing alert atomically.
func (db *DB) AddAlertPollutants(ctx context.Context, alertID int64, pollutants []*AlertPollutant) error {
	if err := validatePollutants(pollutants); err != nil {
		return err
	}
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		return insertPollutants(ctx, tx, alertID, pollutants)
	})
}

// GetAlert returns the alert with its pollutants if its station is
// visible under scope.
func (db *DB) GetAlert(ctx context.Context, scope access.Scope, id int64) (*Alert, error) {
	w := &where{}
	w.add("a.id = ?", id)
	w.scope(scope, "a.station_id")

	row := db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts a`+w.String(), w.args...)
	a, err := scanAlert(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("alert %d", id))
	}
	if err := db.attachPollutants(ctx, []*Alert{a}); err != nil {
		return nil, err
	}
	return a, nil
}

func (db *DB) AlertExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists)
	return exists, translate(err, fmt.Sprintf("alert %d", id))
}

func (db *DB) ListAlerts(ctx context.Context, scope access.Scope, f AlertFilter, page Page) ([]*Alert, int, error) {
	w := &where{}
	w.scope(scope, "a.station_id")
	if f.StationID != 0 {
		w.add("a.station_id = ?", f.StationID)
	}
	if f.Attended != nil {
		w.add("a.attended = ?", *f.Attended)
	}
	if f.DateAfter != nil {
		w.add("a.alert_date >= ?", *f.DateAfter)
	}
	if f.DateBefore != nil {
		w.add("a.alert_date <= ?", *f.DateBefore)
	}
	if f.HasPollutant != "" {
		w.add("EXISTS (SELECT 1 FROM alert_pollutants hp WHERE hp.alert_id = a.id AND hp.pollutant = ?)", f.HasPollutant)
	}

	total, err := countRows(ctx, db, "alerts a", w)
	if err != nil {
		return nil, 0, translate(err, "alerts")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts a`+w.String()+` ORDER BY a.alert_date DESC, a.id DESC`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "alerts")
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, translate(err, "alerts")
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, "alerts")
	}

	if err := db.attachPollutants(ctx, alerts); err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// attachPollutants loads the readings of all given alerts in one query.
func (db *DB) attachPollutants(ctx context.Context, alerts []*Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	ids := make([]int64, len(alerts))
	byID := make(map[int64]*Alert, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
		byID[a.ID] = a
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+pollutantColumns+` FROM alert_pollutants p WHERE p.alert_id = ANY($1) ORDER BY p.id`, pq.Array(ids))
	if err != nil {
		return translate(err, "alert pollutants")
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPollutant(rows)
		if err != nil {
			return translate(err, "alert pollutants")
		}
		if a, ok := byID[p.AlertID]; ok {
			a.Pollutants = append(a.Pollutants, p)
		}
	}
	return translate(rows.Err(), "alert pollutants")
}

func (db *DB) UpdateAlert(ctx context.Context, a *Alert) error {
	err := db.QueryRowContext(ctx, `
		UPDATE alerts SET attended = $1, station_id = $2
		WHERE id = $3
		RETURNING alert_date, created_at
	`, a.Attended, a.StationID, a.ID).Scan(&a.AlertDate, &a.CreatedAt)
	if err != nil {
		return translate(err, fmt.Sprintf("alert %d", a.ID))
	}
	a.Pollutants = []*AlertPollutant{}
	return db.attachPollutants(ctx, []*Alert{a})
}

// MarkAlertAttended flags the alert as handled and returns it.
func (db *DB) MarkAlertAttended(ctx context.Context, id int64) (*Alert, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE alerts a SET attended = TRUE WHERE a.id = $1
		RETURNING `+alertColumns, id)
	a, err := scanAlert(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("alert %d", id))
	}
	if err := db.attachPollutants(ctx, []*Alert{a}); err != nil {
		return nil, err
	}
	return a, nil
}

func (db *DB) DeleteAlert(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	return affectedOne(res, err, fmt.Sprintf("alert %d", id))
}

func (db *DB) CreateAlertPollutant(ctx context.Context, p *AlertPollutant) error {
	if err := validatePollutants([]*AlertPollutant{p}); err != nil {
		return err
	}
	return insertPollutants(ctx, db, p.AlertID, []*AlertPollutant{p})
}

// GetAlertPollutant returns the reading if its alert's station is visible.
func (db *DB) GetAlertPollutant(ctx context.Context, scope access.Scope, id int64) (*AlertPollutant, error) {
	w := &where{}
	w.add("p.id = ?", id)
	w.scope(scope, "a.station_id")

	row := db.QueryRowContext(ctx,
		`SELECT `+pollutantColumns+` FROM alert_pollutants p JOIN alerts a ON a.id = p.alert_id`+w.String(), w.args...)
	p, err := scanPollutant(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("alert pollutant %d", id))
	}
	return p, nil
}

func (db *DB) ListAlertPollutants(ctx context.Context, scope access.Scope, f AlertPollutantFilter, page Page) ([]*AlertPollutant, int, error) {
	w := &where{}
	w.scope(scope, "a.station_id")
	if f.AlertID != 0 {
		w.add("p.alert_id = ?", f.AlertID)
	}
	if f.Pollutant != "" {
		w.add("p.pollutant = ?", f.Pollutant)
	}
	if f.LevelMin != nil {
		w.add("p.level >= ?", *f.LevelMin)
	}
	if f.LevelMax != nil {
		w.add("p.level <= ?", *f.LevelMax)
	}
	if f.RecordedAfter != nil {
		w.add("p.recorded_at >= ?", *f.RecordedAfter)
	}
	if f.RecordedBefore != nil {
		w.add("p.recorded_at <= ?", *f.RecordedBefore)
	}

	const from = "alert_pollutants p JOIN alerts a ON a.id = p.alert_id"
	total, err := countRows(ctx, db, from, w)
	if err != nil {
		return nil, 0, translate(err, "alert pollutants")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+pollutantColumns+` FROM `+from+w.String()+` ORDER BY p.recorded_at DESC, p.id DESC`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "alert pollutants")
	}
	defer rows.Close()

	var pollutants []*AlertPollutant
	for rows.Next() {
		p, err := scanPollutant(rows)
		if err != nil {
			return nil, 0, translate(err, "alert pollutants")
		}
		pollutants = append(pollutants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, "alert pollutants")
	}
	return pollutants, total, nil
}

func (db *DB) UpdateAlertPollutant(ctx context.Context, p *AlertPollutant) error {
	if err := validatePollutants([]*AlertPollutant{p}); err != nil {
		return err
	}
	err := db.QueryRowContext(ctx, `
		UPDATE alert_pollutants SET pollutant = $1, level = $2
		WHERE id = $3
		RETURNING alert_id, recorded_at
	`, p.Pollutant, p.Level, p.ID).Scan(&p.AlertID, &p.RecordedAt)
	return translate(err, fmt.Sprintf("alert pollutant %d", p.ID))
}

func (db *DB) DeleteAlertPollutant(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM alert_pollutants WHERE id = $1`, id)
	return affectedOne(res, err, fmt.Sprintf("alert pollutant %d", id))
}
