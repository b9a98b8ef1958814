package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/smukkama/vrisa/internal/apperr"
)

// lockAccountForProfile locks the account row and rejects accounts that
// already hold the other profile kind.
func lockAccountForProfile(ctx context.Context, tx *sql.Tx, accountID int64, otherTable string) error {
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&id); err != nil {
		return translate(err, fmt.Sprintf("account %d", accountID))
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+otherTable+` WHERE account_id = $1)`, accountID,
	).Scan(&exists); err != nil {
		return translate(err, fmt.Sprintf("account %d", accountID))
	}
	if exists {
		return apperr.Conflictf("account %d already holds a profile of the other kind", accountID)
	}
	return nil
}

// CreateAdminProfile attaches an AdminProfile to an account. An account
// may not hold both profile kinds.
func (db *DB) CreateAdminProfile(ctx context.Context, p *AdminProfile) error {
	if p.AccessLevel < 0 {
		return apperr.Invalidf("access_level must be >= 0")
	}
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := lockAccountForProfile(ctx, tx, p.AccountID, "authorized_profiles"); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO admin_profiles (account_id, access_level)
			VALUES ($1, $2)
			RETURNING id, created_at
		`, p.AccountID, p.AccessLevel).Scan(&p.ID, &p.CreatedAt)
		return translate(err, fmt.Sprintf("admin profile for account %d", p.AccountID))
	})
}

func (db *DB) GetAdminProfile(ctx context.Context, id int64) (*AdminProfile, error) {
	var p AdminProfile
	err := db.QueryRowContext(ctx,
		`SELECT id, account_id, access_level, created_at FROM admin_profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.AccountID, &p.AccessLevel, &p.CreatedAt)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("admin profile %d", id))
	}
	return &p, nil
}

func (db *DB) ListAdminProfiles(ctx context.Context, page Page) ([]*AdminProfile, int, error) {
	w := &where{}
	total, err := countRows(ctx, db, "admin_profiles", w)
	if err != nil {
		return nil, 0, translate(err, "admin profiles")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, account_id, access_level, created_at FROM admin_profiles ORDER BY id`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "admin profiles")
	}
	defer rows.Close()

	var profiles []*AdminProfile
	for rows.Next() {
		var p AdminProfile
		if err := rows.Scan(&p.ID, &p.AccountID, &p.AccessLevel, &p.CreatedAt); err != nil {
			return nil, 0, translate(err, "admin profiles")
		}
		profiles = append(profiles, &p)
	}
	return profiles, total, translate(rows.Err(), "admin profiles")
}

func (db *DB) UpdateAdminProfile(ctx context.Context, p *AdminProfile) error {
	if p.AccessLevel < 0 {
		return apperr.Invalidf("access_level must be >= 0")
	}
	err := db.QueryRowContext(ctx, `
		UPDATE admin_profiles SET access_level = $1 WHERE id = $2
		RETURNING account_id, created_at
	`, p.AccessLevel, p.ID).Scan(&p.AccountID, &p.CreatedAt)
	return translate(err, fmt.Sprintf("admin profile %d", p.ID))
}

// DeleteAdminProfile removes the profile. Stations it administered keep
// existing with a null admin; the delete fails with Conflict while any
// institution still references the profile.
func (db *DB) DeleteAdminProfile(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM admin_profiles WHERE id = $1`, id)
	return affectedOne(res, err, fmt.Sprintf("admin profile %d", id))
}

// CreateAuthorizedProfile attaches an AuthorizedProfile to an account.
func (db *DB) CreateAuthorizedProfile(ctx context.Context, p *AuthorizedProfile) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := lockAccountForProfile(ctx, tx, p.AccountID, "admin_profiles"); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO authorized_profiles (account_id, read_access)
			VALUES ($1, $2)
			RETURNING id, created_at
		`, p.AccountID, p.ReadAccess).Scan(&p.ID, &p.CreatedAt)
		return translate(err, fmt.Sprintf("authorized profile for account %d", p.AccountID))
	})
}

func (db *DB) GetAuthorizedProfile(ctx context.Context, id int64) (*AuthorizedProfile, error) {
	var p AuthorizedProfile
	err := db.QueryRowContext(ctx,
		`SELECT id, account_id, read_access, created_at FROM authorized_profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.AccountID, &p.ReadAccess, &p.CreatedAt)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("authorized profile %d", id))
	}
	return &p, nil
}

func (db *DB) ListAuthorizedProfiles(ctx context.Context, page Page) ([]*AuthorizedProfile, int, error) {
	w := &where{}
	total, err := countRows(ctx, db, "authorized_profiles", w)
	if err != nil {
		return nil, 0, translate(err, "authorized profiles")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, account_id, read_access, created_at FROM authorized_profiles ORDER BY id`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "authorized profiles")
	}
	defer rows.Close()

	var profiles []*AuthorizedProfile
	for rows.Next() {
		var p AuthorizedProfile
		if err := rows.Scan(&p.ID, &p.AccountID, &p.ReadAccess, &p.CreatedAt); err != nil {
			return nil, 0, translate(err, "authorized profiles")
		}
		profiles = append(profiles, &p)
	}
	return profiles, total, translate(rows.Err(), "authorized profiles")
}

func (db *DB) UpdateAuthorizedProfile(ctx context.Context, p *AuthorizedProfile) error {
	err := db.QueryRowContext(ctx, `
		UPDATE authorized_profiles SET read_access = $1 WHERE id = $2
		RETURNING account_id, created_at
	`, p.ReadAccess, p.ID).Scan(&p.AccountID, &p.CreatedAt)
	return translate(err, fmt.Sprintf("authorized profile %d", p.ID))
}

func (db *DB) DeleteAuthorizedProfile(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM authorized_profiles WHERE id = $1`, id)
	return affectedOne(res, err, fmt.Sprintf("authorized profile %d", id))
}
