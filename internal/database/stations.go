package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smukkama/vrisa/internal/access"
)

const stationColumns = `s.id, s.name, s.description, s.address, s.institution_id, s.admin_id,
	ST_X(s.location::geometry), ST_Y(s.location::geometry),
	s.installed_at, s.status, s.created_at, s.updated_at`

const makePoint = `ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography`

// StationFilter narrows station listings. Zero values are ignored.
type StationFilter struct {
	Status          string
	InstitutionID   int64
	AdminID         int64
	Name            string
	InstalledAfter  *time.Time
	InstalledBefore *time.Time
}

func scanStation(row interface{ Scan(...any) error }, extra ...any) (*Station, error) {
	var (
		s           Station
		installedAt sql.NullTime
	)
	dest := []any{
		&s.ID, &s.Name, &s.Description, &s.Address, &s.InstitutionID, &s.AdminID,
		&s.Location.Lon, &s.Location.Lat,
		&installedAt, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if installedAt.Valid {
		s.InstalledAt = &installedAt.Time
	}
	return &s, nil
}

func (db *DB) CreateStation(ctx context.Context, s *Station) error {
	if s.Status == "" {
		s.Status = StationStatusInactive
	}
	w := &where{}
	query := fmt.Sprintf(`
		INSERT INTO stations (name, description, address, institution_id, admin_id, location, installed_at, status)
		VALUES (%s, %s, %s, %s, %s, `+makePoint+`, %s, %s)
		RETURNING id, created_at, updated_at
	`, w.arg(s.Name), w.arg(s.Description), w.arg(s.Address), w.arg(s.InstitutionID), w.arg(s.AdminID),
		w.arg(s.Location.Lon), w.arg(s.Location.Lat), w.arg(dateArg(s.InstalledAt)), w.arg(s.Status))

	err := db.QueryRowContext(ctx, query, w.args...).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return translate(err, fmt.Sprintf("station %q", s.Name))
}

// GetStation returns the station if it exists and is visible under scope.
// Invisible and absent stations both yield NotFound.
func (db *DB) GetStation(ctx context.Context, scope access.Scope, id int64) (*Station, error) {
	w := &where{}
	w.add("s.id = ?", id)
	w.scope(scope, "s.id")

	row := db.QueryRowContext(ctx, `SELECT `+stationColumns+` FROM stations s`+w.String(), w.args...)
	s, err := scanStation(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("station %d", id))
	}
	return s, nil
}

// FindStationByName returns the oldest station of the institution with
// exactly this name.
func (db *DB) FindStationByName(ctx context.Context, institutionID int64, name string) (*Station, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+stationColumns+` FROM stations s WHERE s.institution_id = $1 AND s.name = $2 ORDER BY s.id LIMIT 1`,
		institutionID, name)
	s, err := scanStation(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("station %q", name))
	}
	return s, nil
}

func (db *DB) ListStations(ctx context.Context, scope access.Scope, f StationFilter, page Page) ([]*Station, int, error) {
	w := &where{}
	w.scope(scope, "s.id")
	if f.Status != "" {
		w.add("s.status = ?", f.Status)
	}
	if f.InstitutionID != 0 {
		w.add("s.institution_id = ?", f.InstitutionID)
	}
	if f.AdminID != 0 {
		w.add("s.admin_id = ?", f.AdminID)
	}
	if f.Name != "" {
		w.add(`s.name ILIKE ? ESCAPE '\'`, containsPattern(f.Name))
	}
	if f.InstalledAfter != nil {
		w.add("s.installed_at >= ?", dateArg(f.InstalledAfter))
	}
	if f.InstalledBefore != nil {
		w.add("s.installed_at <= ?", dateArg(f.InstalledBefore))
	}

	total, err := countRows(ctx, db, "stations s", w)
	if err != nil {
		return nil, 0, translate(err, "stations")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+stationColumns+` FROM stations s`+w.String()+` ORDER BY s.id`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "stations")
	}
	defer rows.Close()

	var stations []*Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, 0, translate(err, "stations")
		}
		stations = append(stations, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, "stations")
	}
	return stations, total, nil
}

// NearbyStations returns visible stations within radius meters of center,
// nearest first with ties broken by id. Distance is geodesic, computed by
// PostGIS on the geography column.
func (db *DB) NearbyStations(ctx context.Context, scope access.Scope, center Point, radius float64) ([]*NearbyStation, error) {
	w := &where{}
	point := fmt.Sprintf(makePoint, w.arg(center.Lon), w.arg(center.Lat))
	w.add("ST_DWithin(s.location, "+point+", ?)", radius)
	w.scope(scope, "s.id")

	query := `SELECT ` + stationColumns + `, ST_Distance(s.location, ` + point + `) AS distance
		FROM stations s` + w.String() + `
		ORDER BY distance, s.id`

	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate(err, "nearby stations")
	}
	defer rows.Close()

	var result []*NearbyStation
	for rows.Next() {
		var distance float64
		s, err := scanStation(rows, &distance)
		if err != nil {
			return nil, translate(err, "nearby stations")
		}
		result = append(result, &NearbyStation{Station: *s, DistanceMeters: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "nearby stations")
	}
	if err := ctx.Err(); err != nil {
		return nil, translate(err, "nearby stations")
	}
	return result, nil
}

func (db *DB) UpdateStation(ctx context.Context, s *Station) error {
	w := &where{}
	query := fmt.Sprintf(`
		UPDATE stations SET name = %s, description = %s, address = %s, institution_id = %s,
			admin_id = %s, location = `+makePoint+`, installed_at = %s, status = %s
		WHERE id = %s
		RETURNING created_at, updated_at
	`, w.arg(s.Name), w.arg(s.Description), w.arg(s.Address), w.arg(s.InstitutionID),
		w.arg(s.AdminID), w.arg(s.Location.Lon), w.arg(s.Location.Lat), w.arg(dateArg(s.InstalledAt)), w.arg(s.Status),
		w.arg(s.ID))

	err := db.QueryRowContext(ctx, query, w.args...).Scan(&s.CreatedAt, &s.UpdatedAt)
	return translate(err, fmt.Sprintf("station %d", s.ID))
}

// DeleteStation removes the station and cascades to its devices, alerts
// and consult grants.
func (db *DB) DeleteStation(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM stations WHERE id = $1`, id)
	return affectedOne(res, err, fmt.Sprintf("station %d", id))
}

// GetStationOwnership reads the admin references used for object-level
// authorization of station writes.
func (db *DB) GetStationOwnership(ctx context.Context, id int64) (*StationOwnership, error) {
	var o StationOwnership
	err := db.QueryRowContext(ctx, `
		SELECT s.admin_id, i.admin_id
		FROM stations s JOIN institutions i ON i.id = s.institution_id
		WHERE s.id = $1
	`, id).Scan(&o.StationAdminID, &o.InstitutionAdminID)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("station %d", id))
	}
	return &o, nil
}

// dateArg renders a DATE parameter without a zone, so the session time
// zone cannot shift the day.
func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}
