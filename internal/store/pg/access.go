package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"afripay.org/internal/access"
)

// Access exposes the access request unit-of-work store.
func (s *Store) Access() access.Store { return accessStore{s} }

type accessStore struct {
	*Store
}

func (s accessStore) Requests() access.RequestStore { return requestStore{s.Store} }
func (s accessStore) Grants() access.GrantStore     { return grantStore{s.Store} }

// Approve flips the request out of PENDING and writes every grant in one
// transaction. A request already reviewed or expired reports false with
// no writes.
func (s accessStore) Approve(ctx context.Context, requestID, approverID, reason string, at time.Time, grants []access.Grant) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update access_requests
		set status = $2, reviewed_at = $3, reviewed_by = $4, review_reason = nullif($5,'')
		where id = $1 and status = $6
	`, requestID, access.StatusApproved, at, approverID, reason, access.StatusPending)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if aff == 0 {
		return false, nil
	}

	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, `
			insert into user_permissions (id, user_id, permission_code, granted_by, granted_at, expires_at, notes)
			values ($1,$2,$3,$4,$5,$6,nullif($7,''))
			on conflict (user_id, permission_code) do update
			set granted_by = excluded.granted_by,
			    granted_at = excluded.granted_at,
			    expires_at = excluded.expires_at,
			    notes      = excluded.notes
		`, g.ID, g.UserID, g.Code, g.GrantedBy, g.GrantedAt, g.ExpiresAt, g.Notes); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

type requestStore struct {
	*Store
}

const requestColumns = `
	id, requester_id, target_user_id, codes, justification, urgency,
	status, created_at, expires_at, reviewed_at, reviewed_by, review_reason`

func (s requestStore) Create(ctx context.Context, req *access.Request) error {
	codes, err := json.Marshal(req.Codes)
	if err != nil {
		return fmt.Errorf("marshal codes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into access_requests
			(id, requester_id, target_user_id, codes, justification, urgency, status, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, req.ID, req.RequesterID, req.TargetUserID, codes, req.Justification,
		req.Urgency, req.Status, req.CreatedAt, req.ExpiresAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return access.ErrInvalidInput
	}
	return err
}

func (s requestStore) Get(ctx context.Context, id string) (*access.Request, error) {
	row := s.db.QueryRowContext(ctx, `select`+requestColumns+` from access_requests where id = $1`, id)
	return scanRequest(row.Scan)
}

func (s requestStore) ListPending(ctx context.Context) ([]access.Request, error) {
	return s.listRequests(ctx, `
		select`+requestColumns+`
		from access_requests
		where status = $1
		order by case urgency
			when 'CRITICAL' then 3
			when 'HIGH' then 2
			when 'MEDIUM' then 1
			else 0
		end desc, created_at asc
	`, access.StatusPending)
}

func (s requestStore) ListByRequester(ctx context.Context, requesterID string) ([]access.Request, error) {
	return s.listRequests(ctx, `
		select`+requestColumns+` from access_requests
		where requester_id = $1
		order by created_at desc
	`, requesterID)
}

func (s requestStore) ListForUser(ctx context.Context, targetUserID string) ([]access.Request, error) {
	return s.listRequests(ctx, `
		select`+requestColumns+` from access_requests
		where target_user_id = $1
		order by created_at desc
	`, targetUserID)
}

func (s requestStore) ListExpired(ctx context.Context, now time.Time) ([]access.Request, error) {
	return s.listRequests(ctx, `
		select`+requestColumns+` from access_requests
		where status = $1 and expires_at < $2
		order by created_at asc
	`, access.StatusPending, now)
}

func (s requestStore) MarkReviewed(ctx context.Context, id string, status access.Status, reviewerID, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update access_requests
		set status = $2, reviewed_at = $3, reviewed_by = $4, review_reason = nullif($5,'')
		where id = $1 and status = $6
	`, id, status, at, reviewerID, reason, access.StatusPending)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}

func (s requestStore) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update access_requests
		set status = $2, reviewed_at = $3
		where id = $1 and status = $4
	`, id, access.StatusExpired, at, access.StatusPending)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}

func (s requestStore) listRequests(ctx context.Context, query string, args ...any) ([]access.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []access.Request
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}

func scanRequest(scan func(...any) error) (*access.Request, error) {
	var (
		req       access.Request
		rawCodes  []byte
		reviewed  sql.NullTime
		reviewer  sql.NullString
		revReason sql.NullString
	)
	err := scan(&req.ID, &req.RequesterID, &req.TargetUserID, &rawCodes,
		&req.Justification, &req.Urgency, &req.Status, &req.CreatedAt,
		&req.ExpiresAt, &reviewed, &reviewer, &revReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(rawCodes) > 0 {
		if err := json.Unmarshal(rawCodes, &req.Codes); err != nil {
			return nil, fmt.Errorf("decode codes: %w", err)
		}
	}
	if reviewed.Valid {
		t := reviewed.Time
		req.ReviewedAt = &t
	}
	req.ReviewedBy = reviewer.String
	req.ReviewReason = revReason.String
	return &req, nil
}

type grantStore struct {
	*Store
}

func (s grantStore) Put(ctx context.Context, g *access.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (id, user_id, permission_code, granted_by, granted_at, expires_at, notes)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''))
		on conflict (user_id, permission_code) do update
		set granted_by = excluded.granted_by,
		    granted_at = excluded.granted_at,
		    expires_at = excluded.expires_at,
		    notes      = excluded.notes
	`, g.ID, g.UserID, g.Code, g.GrantedBy, g.GrantedAt, g.ExpiresAt, g.Notes)
	return err
}

func (s grantStore) ListByUser(ctx context.Context, userID string) ([]access.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, permission_code, granted_by, granted_at, expires_at, coalesce(notes,'')
		from user_permissions
		where user_id = $1
		order by permission_code
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []access.Grant
	for rows.Next() {
		var (
			g   access.Grant
			exp sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.Code, &g.GrantedBy, &g.GrantedAt, &exp, &g.Notes); err != nil {
			return nil, err
		}
		if exp.Valid {
			t := exp.Time
			g.ExpiresAt = &t
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}
