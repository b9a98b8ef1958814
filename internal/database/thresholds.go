package database

import (
	"context"
	"fmt"
)

// ActiveThresholds returns one active threshold per pollutant for the
// station, preferring a station-specific row over the global default.
func (db *DB) ActiveThresholds(ctx context.Context, stationID int64) ([]*PollutantThreshold, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT ON (pollutant)
		       id, pollutant, station_id, level, duration_minutes, active, created_at
		FROM pollutant_thresholds
		WHERE active AND (station_id = $1 OR station_id IS NULL)
		ORDER BY pollutant, station_id NULLS LAST
	`, stationID)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("thresholds for station %d", stationID))
	}
	defer rows.Close()

	var thresholds []*PollutantThreshold
	for rows.Next() {
		var t PollutantThreshold
		if err := rows.Scan(&t.ID, &t.Pollutant, &t.StationID, &t.Level, &t.DurationMinutes, &t.Active, &t.CreatedAt); err != nil {
			return nil, translate(err, "thresholds")
		}
		thresholds = append(thresholds, &t)
	}
	return thresholds, translate(rows.Err(), "thresholds")
}

// UpsertThreshold inserts or replaces the threshold for its pollutant and
// station scope.
func (db *DB) UpsertThreshold(ctx context.Context, t *PollutantThreshold) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO pollutant_thresholds (pollutant, station_id, level, duration_minutes, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pollutant, COALESCE(station_id, 0)) DO UPDATE
		SET level = EXCLUDED.level,
		    duration_minutes = EXCLUDED.duration_minutes,
		    active = EXCLUDED.active
		RETURNING id, created_at
	`, t.Pollutant, t.StationID, t.Level, t.DurationMinutes, t.Active).Scan(&t.ID, &t.CreatedAt)
	return translate(err, fmt.Sprintf("%s threshold", t.Pollutant))
}
