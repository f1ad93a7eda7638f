package pg

import (
	"context"
	"database/sql"
	"errors"

	"afripay.org/internal/user"
)

// Users exposes the user lookup store backed by the users table.
func (s *Store) Users() user.Store { return userStore{s} }

type userStore struct {
	*Store
}

const userColumns = `
	id, email, full_name, role, department, phone, password_hash,
	two_factor_enabled, status, created_at, updated_at`

func (s userStore) Find(ctx context.Context, id string) (*user.User, error) {
	row := s.db.QueryRowContext(ctx, `select`+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	row := s.db.QueryRowContext(ctx, `select`+userColumns+` from users where lower(email) = lower($1)`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*user.User, error) {
	var (
		u     user.User
		dept  sql.NullString
		phone sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &dept, &phone,
		&u.PasswordHash, &u.TwoFactorEnabled, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Department = dept.String
	u.Phone = phone.String
	return &u, nil
}
