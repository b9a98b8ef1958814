package database

import (
	"context"
	"fmt"
)

const institutionColumns = `id, name, address, verified, admin_id, created_at`

// InstitutionFilter narrows institution listings. Zero values are ignored.
type InstitutionFilter struct {
	AdminID  int64
	Verified *bool
	Name     string
}

func scanInstitution(row interface{ Scan(...any) error }) (*Institution, error) {
	var i Institution
	if err := row.Scan(&i.ID, &i.Name, &i.Address, &i.Verified, &i.AdminID, &i.CreatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func (db *DB) CreateInstitution(ctx context.Context, i *Institution) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO institutions (name, address, verified, admin_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, i.Name, i.Address, i.Verified, i.AdminID).Scan(&i.ID, &i.CreatedAt)
	return translate(err, fmt.Sprintf("institution %q", i.Name))
}

func (db *DB) GetInstitution(ctx context.Context, id int64) (*Institution, error) {
	row := db.QueryRowContext(ctx, `SELECT `+institutionColumns+` FROM institutions WHERE id = $1`, id)
	i, err := scanInstitution(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("institution %d", id))
	}
	return i, nil
}

// FindInstitutionByName returns the oldest institution with exactly this
// name.
func (db *DB) FindInstitutionByName(ctx context.Context, name string) (*Institution, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE name = $1 ORDER BY id LIMIT 1`, name)
	i, err := scanInstitution(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("institution %q", name))
	}
	return i, nil
}

func (db *DB) ListInstitutions(ctx context.Context, f InstitutionFilter, page Page) ([]*Institution, int, error) {
	w := &where{}
	if f.AdminID != 0 {
		w.add("admin_id = ?", f.AdminID)
	}
	if f.Verified != nil {
		w.add("verified = ?", *f.Verified)
	}
	if f.Name != "" {
		w.add(`name ILIKE ? ESCAPE '\'`, containsPattern(f.Name))
	}

	total, err := countRows(ctx, db, "institutions", w)
	if err != nil {
		return nil, 0, translate(err, "institutions")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+institutionColumns+` FROM institutions`+w.String()+` ORDER BY name, id`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "institutions")
	}
	defer rows.Close()

	var institutions []*Institution
	for rows.Next() {
		i, err := scanInstitution(rows)
		if err != nil {
			return nil, 0, translate(err, "institutions")
		}
		institutions = append(institutions, i)
	}
	return institutions, total, translate(rows.Err(), "institutions")
}

func (db *DB) UpdateInstitution(ctx context.Context, i *Institution) error {
	err := db.QueryRowContext(ctx, `
		UPDATE institutions SET name = $1, address = $2, verified = $3, admin_id = $4
		WHERE id = $5
		RETURNING created_at
	`, i.Name, i.Address, i.Verified, i.AdminID, i.ID).Scan(&i.CreatedAt)
	return translate(err, fmt.Sprintf("institution %d", i.ID))
}

// DeleteInstitution removes the institution and, by cascade, its stations.
func (db *DB) DeleteInstitution(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM institutions WHERE id = $1`, id)
	return affectedOne(res, err, fmt.Sprintf("institution %d", id))
}
