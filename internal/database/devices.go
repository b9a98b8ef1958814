package database

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/vrisa/internal/access"
)

const deviceColumns = `d.id, d.serial_number, d.install_date, d.description, d.type, d.station_id, d.created_at`

// DeviceFilter narrows device listings. Zero values are ignored.
type DeviceFilter struct {
	StationID       int64
	Type            string
	InstalledAfter  *time.Time
	InstalledBefore *time.Time
}

func scanDevice(row interface{ Scan(...any) error }) (*Device, error) {
	var d Device
	if err := row.Scan(&d.ID, &d.SerialNumber, &d.InstallDate, &d.Description, &d.Type, &d.StationID, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (db *DB) CreateDevice(ctx context.Context, d *Device) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO devices (serial_number, description, type, station_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, install_date, created_at
	`, d.SerialNumber, d.Description, d.Type, d.StationID).Scan(&d.ID, &d.InstallDate, &d.CreatedAt)
	return translate(err, fmt.Sprintf("device %q", d.SerialNumber))
}

// GetDevice returns the device if its station is visible under scope.
func (db *DB) GetDevice(ctx context.Context, scope access.Scope, id int64) (*Device, error) {
	w := &where{}
	w.add("d.id = ?", id)
	w.scope(scope, "d.station_id")

	row := db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices d`+w.String(), w.args...)
	d, err := scanDevice(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("device %d", id))
	}
	return d, nil
}

// GetDeviceBySerial resolves a device for the ingestion gateway.
func (db *DB) GetDeviceBySerial(ctx context.Context, serial string) (*Device, error) {
	row := db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices d WHERE d.serial_number = $1`, serial)
	d, err := scanDevice(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("device %q", serial))
	}
	return d, nil
}

func (db *DB) ListDevices(ctx context.Context, scope access.Scope, f DeviceFilter, page Page) ([]*Device, int, error) {
	w := &where{}
	w.scope(scope, "d.station_id")
	if f.StationID != 0 {
		w.add("d.station_id = ?", f.StationID)
	}
	if f.Type != "" {
		w.add("d.type = ?", f.Type)
	}
	if f.InstalledAfter != nil {
		w.add("d.install_date >= ?", *f.InstalledAfter)
	}
	if f.InstalledBefore != nil {
		w.add("d.install_date <= ?", *f.InstalledBefore)
	}

	total, err := countRows(ctx, db, "devices d", w)
	if err != nil {
		return nil, 0, translate(err, "devices")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices d`+w.String()+` ORDER BY d.id`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "devices")
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, 0, translate(err, "devices")
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, "devices")
	}
	return devices, total, nil
}

func (db *DB) UpdateDevice(ctx context.Context, d *Device) error {
	err := db.QueryRowContext(ctx, `
		UPDATE devices SET serial_number = $1, description = $2, type = $3, station_id = $4
		WHERE id = $5
		RETURNING install_date, created_at
	`, d.SerialNumber, d.Description, d.Type, d.StationID, d.ID).Scan(&d.InstallDate, &d.CreatedAt)
	return translate(err, fmt.Sprintf("device %d", d.ID))
}

func (db *DB) DeleteDevice(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	return affectedOne(res, err, fmt.Sprintf("device %d", id))
}
