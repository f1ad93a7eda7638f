package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"afripay.org/internal/session"
)

// Sessions exposes the session store backed by the sessions table.
func (s *Store) Sessions() session.Store { return sessionStore{s} }

type sessionStore struct {
	*Store
}

const sessionColumns = `
	id, user_id, access_token_id, refresh_token_hash, expires_at,
	refresh_expires_at, device_id, device_ip, device_user_agent,
	last_activity_at, is_active, created_at`

func (s sessionStore) Create(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions
			(id, user_id, access_token_id, refresh_token_hash, expires_at,
			 refresh_expires_at, device_id, device_ip, device_user_agent,
			 last_activity_at, is_active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sess.ID, sess.UserID, sess.AccessTokenID, sess.RefreshTokenHash,
		sess.ExpiresAt, sess.RefreshTokenExpiresAt,
		sess.Device.ID, sess.Device.IP, sess.Device.UserAgent,
		sess.LastActivityAt, sess.IsActive, sess.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return session.ErrInvalidInput
	}
	return err
}

func (s sessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `select`+sessionColumns+` from sessions where id = $1`, id)
	return scanSession(row.Scan)
}

func (s sessionStore) ListByUser(ctx context.Context, userID string) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select`+sessionColumns+` from sessions
		where user_id = $1
		order by last_activity_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s sessionStore) Rotate(ctx context.Context, id, accessTokenID, refreshTokenHash string, expiresAt, refreshExpiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set access_token_id = $2, refresh_token_hash = $3,
		    expires_at = $4, refresh_expires_at = $5, last_activity_at = now()
		where id = $1
	`, id, accessTokenID, refreshTokenHash, expiresAt, refreshExpiresAt)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set last_activity_at = $2 where id = $1
	`, id, at)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s sessionStore) MarkInactive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set is_active = false where id = $1
	`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s sessionStore) MarkInactiveByUser(ctx context.Context, userID, exceptID string) error {
	_, err := s.db.ExecContext(ctx, `
		update sessions set is_active = false
		where user_id = $1 and id <> $2
	`, userID, exceptID)
	return err
}

func requireAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return session.ErrNotFound
	}
	return nil
}

func scanSession(scan func(...any) error) (*session.Session, error) {
	var (
		sess                session.Session
		devID, devIP, devUA sql.NullString
	)
	err := scan(&sess.ID, &sess.UserID, &sess.AccessTokenID, &sess.RefreshTokenHash,
		&sess.ExpiresAt, &sess.RefreshTokenExpiresAt,
		&devID, &devIP, &devUA,
		&sess.LastActivityAt, &sess.IsActive, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Device = session.Device{ID: devID.String, IP: devIP.String, UserAgent: devUA.String}
	return &sess, nil
}
