package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/smukkama/vrisa/internal/apperr"
)

// insertOrFetchAttempts bounds the retries of an idempotent insert whose
// conflicting row was committed after the statement snapshot was taken.
const insertOrFetchAttempts = 3

const insertConsultQuery = `
	WITH ins AS (
		INSERT INTO station_consults (authorized_profile_id, station_id)
		VALUES ($1, $2)
		ON CONFLICT (authorized_profile_id, station_id) DO NOTHING
		RETURNING granted_at
	)
	SELECT granted_at, TRUE FROM ins
	UNION ALL
	SELECT granted_at, FALSE FROM station_consults
	WHERE authorized_profile_id = $1 AND station_id = $2
	  AND NOT EXISTS (SELECT 1 FROM ins)`

const insertReceiptQuery = `
	WITH ins AS (
		INSERT INTO alert_receipts (authorized_profile_id, alert_id)
		VALUES ($1, $2)
		ON CONFLICT (authorized_profile_id, alert_id) DO NOTHING
		RETURNING received_at
	)
	SELECT received_at, TRUE FROM ins
	UNION ALL
	SELECT received_at, FALSE FROM alert_receipts
	WHERE authorized_profile_id = $1 AND alert_id = $2
	  AND NOT EXISTS (SELECT 1 FROM ins)`

// ConsultFilter narrows consult and receipt listings.
type ConsultFilter struct {
	AuthorizedProfileID int64
	StationID           int64
	AlertID             int64
}

// insertOrFetch runs one of the idempotent grant statements above. Under
// READ COMMITTED a concurrent inserter can win the conflict while its row
// is still invisible to our snapshot, yielding no rows; the statement is
// then retried with a fresh snapshot.
func (db *DB) insertOrFetch(ctx context.Context, query string, subject string, a, b int64, dest *pq.NullTime) (bool, error) {
	for attempt := 0; attempt < insertOrFetchAttempts; attempt++ {
		rows, err := db.QueryContext(ctx, query, a, b)
		if err != nil {
			return false, translate(err, subject)
		}

		var (
			created bool
			found   bool
		)
		if rows.Next() {
			if err := rows.Scan(dest, &created); err != nil {
				rows.Close()
				return false, translate(err, subject)
			}
			found = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return false, translate(err, subject)
		}
		if found {
			return created, nil
		}
	}
	return false, apperr.New(apperr.Internal, "%s: concurrent grant did not become visible", subject)
}

// InsertConsult grants the profile visibility of the station. It returns
// the stored row and whether this call created it. Missing profile or
// station yields NotFound.
func (db *DB) InsertConsult(ctx context.Context, profileID, stationID int64) (*StationConsult, bool, error) {
	var grantedAt pq.NullTime
	subject := fmt.Sprintf("access for authorized profile %d on station %d", profileID, stationID)
	created, err := db.insertOrFetch(ctx, insertConsultQuery, subject, profileID, stationID, &grantedAt)
	if err != nil {
		return nil, false, err
	}
	return &StationConsult{
		AuthorizedProfileID: profileID,
		StationID:           stationID,
		GrantedAt:           grantedAt.Time,
	}, created, nil
}

// DeleteConsult revokes a grant. A missing grant yields NotFound.
func (db *DB) DeleteConsult(ctx context.Context, profileID, stationID int64) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM station_consults WHERE authorized_profile_id = $1 AND station_id = $2`, profileID, stationID)
	return affectedOne(res, err, fmt.Sprintf("access for authorized profile %d on station %d", profileID, stationID))
}

func (db *DB) ConsultExists(ctx context.Context, profileID, stationID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM station_consults WHERE authorized_profile_id = $1 AND station_id = $2
		)`, profileID, stationID).Scan(&exists)
	return exists, translate(err, "station consult")
}

func (db *DB) ListConsults(ctx context.Context, f ConsultFilter, page Page) ([]*StationConsult, int, error) {
	w := &where{}
	if f.AuthorizedProfileID != 0 {
		w.add("authorized_profile_id = ?", f.AuthorizedProfileID)
	}
	if f.StationID != 0 {
		w.add("station_id = ?", f.StationID)
	}

	total, err := countRows(ctx, db, "station_consults", w)
	if err != nil {
		return nil, 0, translate(err, "station consults")
	}

	rows, err := db.QueryContext(ctx, `
		SELECT authorized_profile_id, station_id, granted_at FROM station_consults`+w.String()+`
		ORDER BY granted_at DESC, authorized_profile_id, station_id`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "station consults")
	}
	defer rows.Close()

	var consults []*StationConsult
	for rows.Next() {
		var c StationConsult
		if err := rows.Scan(&c.AuthorizedProfileID, &c.StationID, &c.GrantedAt); err != nil {
			return nil, 0, translate(err, "station consults")
		}
		consults = append(consults, &c)
	}
	return consults, total, translate(rows.Err(), "station consults")
}

// InsertReceipt records that the profile received the alert, idempotently.
func (db *DB) InsertReceipt(ctx context.Context, profileID, alertID int64) (*AlertReceipt, bool, error) {
	var receivedAt pq.NullTime
	subject := fmt.Sprintf("receipt of alert %d for authorized profile %d", alertID, profileID)
	created, err := db.insertOrFetch(ctx, insertReceiptQuery, subject, profileID, alertID, &receivedAt)
	if err != nil {
		return nil, false, err
	}
	return &AlertReceipt{
		AuthorizedProfileID: profileID,
		AlertID:             alertID,
		ReceivedAt:          receivedAt.Time,
	}, created, nil
}

func (db *DB) DeleteReceipt(ctx context.Context, profileID, alertID int64) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM alert_receipts WHERE authorized_profile_id = $1 AND alert_id = $2`, profileID, alertID)
	return affectedOne(res, err, fmt.Sprintf("receipt of alert %d for authorized profile %d", alertID, profileID))
}

func (db *DB) ListReceipts(ctx context.Context, f ConsultFilter, page Page) ([]*AlertReceipt, int, error) {
	w := &where{}
	if f.AuthorizedProfileID != 0 {
		w.add("authorized_profile_id = ?", f.AuthorizedProfileID)
	}
	if f.AlertID != 0 {
		w.add("alert_id = ?", f.AlertID)
	}

	total, err := countRows(ctx, db, "alert_receipts", w)
	if err != nil {
		return nil, 0, translate(err, "alert receipts")
	}

	rows, err := db.QueryContext(ctx, `
		SELECT authorized_profile_id, alert_id, received_at FROM alert_receipts`+w.String()+`
		ORDER BY received_at DESC, authorized_profile_id, alert_id`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "alert receipts")
	}
	defer rows.Close()

	var receipts []*AlertReceipt
	for rows.Next() {
		var r AlertReceipt
		if err := rows.Scan(&r.AuthorizedProfileID, &r.AlertID, &r.ReceivedAt); err != nil {
			return nil, 0, translate(err, "alert receipts")
		}
		receipts = append(receipts, &r)
	}
	return receipts, total, translate(rows.Err(), "alert receipts")
}

// ExistingAuthorizedProfiles returns the subset of ids that resolve to an
// authorized profile.
func (db *DB) ExistingAuthorizedProfiles(ctx context.Context, ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM authorized_profiles WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, translate(err, "authorized profiles")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, translate(err, "authorized profiles")
		}
		existing[id] = true
	}
	return existing, translate(rows.Err(), "authorized profiles")
}

// Recipients returns contact details for the given authorized profiles,
// in id order. Unknown ids are omitted.
func (db *DB) Recipients(ctx context.Context, ids []int64) ([]Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return db.queryRecipients(ctx, `
		SELECT au.id, a.display_name, a.email
		FROM authorized_profiles au JOIN accounts a ON a.id = au.account_id
		WHERE au.id = ANY($1)
		ORDER BY au.id`, pq.Array(ids))
}

// ConsultingRecipients returns every authorized profile holding a consult
// grant on the station.
func (db *DB) ConsultingRecipients(ctx context.Context, stationID int64) ([]Recipient, error) {
	return db.queryRecipients(ctx, `
		SELECT au.id, a.display_name, a.email
		FROM station_consults sc
		JOIN authorized_profiles au ON au.id = sc.authorized_profile_id
		JOIN accounts a ON a.id = au.account_id
		WHERE sc.station_id = $1 AND au.read_access
		ORDER BY au.id`, stationID)
}

func (db *DB) queryRecipients(ctx context.Context, query string, args ...any) ([]Recipient, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "recipients")
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.AuthorizedProfileID, &r.Name, &r.Email); err != nil {
			return nil, translate(err, "recipients")
		}
		recipients = append(recipients, r)
	}
	return recipients, translate(rows.Err(), "recipients")
}
