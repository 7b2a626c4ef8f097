package lti

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLUserDirectory backs the session bridge with the users table.
type SQLUserDirectory struct {
	DB *sql.DB
}

func (d *SQLUserDirectory) UserByEmail(ctx context.Context, email string) (User, bool, error) {
	var u User
	err := d.DB.QueryRowContext(ctx,
		`SELECT id, username, email, role FROM users WHERE email=$1`, email).
		Scan(&u.ID, &u.Username, &u.Email, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (d *SQLUserDirectory) CreateUser(ctx context.Context, u User, passwordHash string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Username, u.Email, passwordHash, u.Role, time.Now().Unix())
	return err
}
