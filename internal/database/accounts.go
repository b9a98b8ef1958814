package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/smukkama/vrisa/internal/apperr"
)

const accountColumns = `id, display_name, email, password_hash, role_label, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.DisplayName, &a.Email, &a.PasswordHash, &a.RoleLabel, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account and fills in its generated fields.
func (db *DB) CreateAccount(ctx context.Context, a *Account) error {
	if a.RoleLabel == "" {
		a.RoleLabel = DefaultRoleLabel
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO accounts (display_name, email, password_hash, role_label)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, a.DisplayName, a.Email, a.PasswordHash, a.RoleLabel).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return translate(err, fmt.Sprintf("account with email %s", a.Email))
}

func (db *DB) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("account %d", id))
	}
	return a, nil
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	row := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
	a, err := scanAccount(row)
	if err != nil {
		return nil, translate(err, "account")
	}
	return a, nil
}

func (db *DB) ListAccounts(ctx context.Context, page Page) ([]*Account, int, error) {
	w := &where{}
	total, err := countRows(ctx, db, "accounts", w)
	if err != nil {
		return nil, 0, translate(err, "accounts")
	}

	rows, err := db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts`+w.String()+` ORDER BY id`+page.clause(w), w.args...)
	if err != nil {
		return nil, 0, translate(err, "accounts")
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, translate(err, "accounts")
		}
		accounts = append(accounts, a)
	}
	return accounts, total, translate(rows.Err(), "accounts")
}

// UpdateAccount writes the mutable profile fields of a.
func (db *DB) UpdateAccount(ctx context.Context, a *Account) error {
	err := db.QueryRowContext(ctx, `
		UPDATE accounts SET display_name = $1, email = $2, role_label = $3
		WHERE id = $4
		RETURNING created_at, updated_at
	`, a.DisplayName, a.Email, a.RoleLabel, a.ID).Scan(&a.CreatedAt, &a.UpdatedAt)
	return translate(err, fmt.Sprintf("account %d", a.ID))
}

func (db *DB) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := db.ExecContext(ctx, `UPDATE accounts SET password_hash = $1 WHERE id = $2`, hash, id)
	return affectedOne(res, err, fmt.Sprintf("account %d", id))
}

func (db *DB) DeleteAccount(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return affectedOne(res, err, fmt.Sprintf("account %d", id))
}

// Profiles returns which profiles the account currently holds.
func (db *DB) Profiles(ctx context.Context, accountID int64) (*ProfileSet, error) {
	var (
		set          = ProfileSet{AccountID: accountID}
		adminID      sql.NullInt64
		accessLevel  sql.NullInt64
		authorizedID sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT ap.id, ap.access_level, au.id
		FROM accounts a
		LEFT JOIN admin_profiles ap ON ap.account_id = a.id
		LEFT JOIN authorized_profiles au ON au.account_id = a.id
		WHERE a.id = $1
	`, accountID).Scan(&adminID, &accessLevel, &authorizedID)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("account %d", accountID))
	}

	if adminID.Valid {
		set.AdminProfileID = &adminID.Int64
		set.AccessLevel = int(accessLevel.Int64)
	}
	if authorizedID.Valid {
		set.AuthorizedProfileID = &authorizedID.Int64
	}
	return &set, nil
}

func affectedOne(res sql.Result, err error, subject string) error {
	if err != nil {
		return translate(err, subject)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err, subject)
	}
	if n == 0 {
		return apperr.NotFoundf("%s not found", subject)
	}
	return nil
}
