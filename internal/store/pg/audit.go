package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"afripay.org/internal/audit"
)

// auditChainLockKey serializes tail reads and inserts so the hash chain
// never forks across concurrent writers.
const auditChainLockKey = int64(0x41465041) // "AFPA"

// Audit exposes the append-only audit log store.
func (s *Store) Audit() audit.Store { return auditStore{s} }

type auditStore struct {
	*Store
}

const auditColumns = `
	id, ts, actor_user_id, actor_role, actor_ip, actor_user_agent,
	action, resource_type, resource_id, before, after,
	correlation_id, metadata, previous_hash, hash`

func (s auditStore) Append(ctx context.Context, e *audit.Entry) error {
	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return err
	}
	meta, err := marshalSnapshot(e.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, auditChainLockKey); err != nil {
		return err
	}

	tail := audit.Genesis
	err = tx.QueryRowContext(ctx, `select hash from audit_logs order by id desc limit 1`).Scan(&tail)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if tail != e.PreviousHash {
		return audit.ErrChainConflict
	}

	if err := tx.QueryRowContext(ctx, `
		insert into audit_logs
			(ts, actor_user_id, actor_role, actor_ip, actor_user_agent,
			 action, resource_type, resource_id, before, after,
			 correlation_id, metadata, previous_hash, hash)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		returning id
	`, e.Timestamp, e.Actor.UserID, e.Actor.Role, e.Actor.IP, e.Actor.UserAgent,
		e.Action, e.ResourceType, e.ResourceID, before, after,
		e.CorrelationID, meta, e.PreviousHash, e.Hash).Scan(&e.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s auditStore) Last(ctx context.Context) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx, `select`+auditColumns+` from audit_logs order by id desc limit 1`)
	entry, err := scanAuditEntry(row.Scan)
	if errors.Is(err, audit.ErrNotFound) {
		return nil, audit.ErrNotFound
	}
	return entry, err
}

func (s auditStore) Range(ctx context.Context, fromID, toID int64) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select`+auditColumns+` from audit_logs
		where id >= $1 and ($2 <= 0 or id <= $2)
		order by id asc
	`, fromID, toID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		entry, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanAuditEntry(scan func(...any) error) (*audit.Entry, error) {
	var (
		e                        audit.Entry
		ip, userAgent, corrID    sql.NullString
		rawBefore, rawAfter, raw []byte
	)
	err := scan(&e.ID, &e.Timestamp, &e.Actor.UserID, &e.Actor.Role, &ip, &userAgent,
		&e.Action, &e.ResourceType, &e.ResourceID, &rawBefore, &rawAfter,
		&corrID, &raw, &e.PreviousHash, &e.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Actor.IP = ip.String
	e.Actor.UserAgent = userAgent.String
	e.CorrelationID = corrID.String
	if e.Before, err = unmarshalSnapshot(rawBefore); err != nil {
		return nil, err
	}
	if e.After, err = unmarshalSnapshot(rawAfter); err != nil {
		return nil, err
	}
	if e.Metadata, err = unmarshalSnapshot(raw); err != nil {
		return nil, err
	}
	return &e, nil
}

func marshalSnapshot(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return bytes, nil
}

func unmarshalSnapshot(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return m, nil
}
