package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"afripay.org/internal/permission"
)

// Permissions exposes the permission code catalog store.
func (s *Store) Permissions() permission.Store { return permStore{s} }

type permStore struct {
	*Store
}

const permColumns = `
	code, description, department, resource, action, version,
	deprecated, deprecated_at, replacement_code, created_at, created_by`

func (s permStore) Create(ctx context.Context, c *permission.Code) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permission_codes
			(code, description, department, resource, action, version,
			 deprecated, deprecated_at, replacement_code, created_at, created_by)
		values ($1,$2,$3,$4,$5,$6,$7,$8,nullif($9,''),$10,$11)
	`, c.Code, c.Description, c.Department, c.Resource, c.Action, c.Version,
		c.Deprecated, c.DeprecatedAt, c.ReplacementCode, c.CreatedAt, c.CreatedBy)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return permission.ErrConflict
	}
	return err
}

func (s permStore) Get(ctx context.Context, code string) (*permission.Code, error) {
	row := s.db.QueryRowContext(ctx, `select`+permColumns+` from permission_codes where code = $1`, code)
	return scanPermission(row.Scan)
}

func (s permStore) List(ctx context.Context, filter permission.ListFilter) ([]permission.Code, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if filter.Department != "" {
		where = append(where, fmt.Sprintf("department = $%d", idx))
		args = append(args, filter.Department)
		idx++
	}
	if filter.Deprecated != nil {
		where = append(where, fmt.Sprintf("deprecated = $%d", idx))
		args = append(args, *filter.Deprecated)
		idx++
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(code ilike $%d or description ilike $%d)", idx, idx))
		args = append(args, "%"+filter.Search+"%")
		idx++
	}
	query := `select` + permColumns + ` from permission_codes`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by department, resource, action"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []permission.Code
	for rows.Next() {
		c, err := scanPermission(rows.Scan)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return codes, nil
}

func (s permStore) MarkDeprecated(ctx context.Context, code, replacement string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update permission_codes
		set deprecated = true, deprecated_at = $2, replacement_code = nullif($3,'')
		where code = $1 and deprecated = false
	`, code, at, replacement)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return permission.ErrNotFound
	}
	return nil
}

func scanPermission(scan func(...any) error) (*permission.Code, error) {
	var (
		c           permission.Code
		deprAt      sql.NullTime
		replacement sql.NullString
	)
	err := scan(&c.Code, &c.Description, &c.Department, &c.Resource, &c.Action,
		&c.Version, &c.Deprecated, &deprAt, &replacement, &c.CreatedAt, &c.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deprAt.Valid {
		t := deprAt.Time
		c.DeprecatedAt = &t
	}
	c.ReplacementCode = replacement.String
	return &c, nil
}
