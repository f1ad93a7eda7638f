package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"afripay.org/internal/access"
	"afripay.org/internal/audit"
	"afripay.org/internal/session"
	"afripay.org/internal/user"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestApproveCommitsRequestAndGrants(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	expires := now.Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("update access_requests").
		WithArgs("req-1", access.StatusApproved, now, "mgr-1", "looks right", access.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into user_permissions").
		WithArgs("g-1", "u-9", "FIN-REPORTS-VIEW", "mgr-1", now, &expires, "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into user_permissions").
		WithArgs("g-2", "u-9", "FIN-REPORTS-EXPORT", "mgr-1", now, &expires, "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	grants := []access.Grant{
		{ID: "g-1", UserID: "u-9", Code: "FIN-REPORTS-VIEW", GrantedBy: "mgr-1", GrantedAt: now, ExpiresAt: &expires},
		{ID: "g-2", UserID: "u-9", Code: "FIN-REPORTS-EXPORT", GrantedBy: "mgr-1", GrantedAt: now, ExpiresAt: &expires},
	}
	ok, err := store.Access().Approve(context.Background(), "req-1", "mgr-1", "looks right", now, grants)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !ok {
		t.Fatalf("expected approval to apply")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApproveAlreadyReviewedWritesNothing(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("update access_requests").
		WithArgs("req-1", access.StatusApproved, now, "mgr-1", "", access.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := store.Access().Approve(context.Background(), "req-1", "mgr-1", "", now,
		[]access.Grant{{ID: "g-1", UserID: "u-9", Code: "FIN-REPORTS-VIEW", GrantedBy: "mgr-1", GrantedAt: now}})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if ok {
		t.Fatalf("expected no-op on an already reviewed request")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditAppendChainsOnTail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").
		WithArgs(auditChainLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select hash from audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("aaaa"))
	mock.ExpectQuery("insert into audit_logs").
		WithArgs(sqlmock.AnyArg(), "u-1", "ADMIN", "", "", audit.ActionLoginSuccess, "SESSION", "s-1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "corr-1", sqlmock.AnyArg(), "aaaa", "bbbb").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	entry := &audit.Entry{
		Timestamp:     time.Now().UTC(),
		Actor:         audit.Actor{UserID: "u-1", Role: "ADMIN"},
		Action:        audit.ActionLoginSuccess,
		ResourceType:  "SESSION",
		ResourceID:    "s-1",
		CorrelationID: "corr-1",
		PreviousHash:  "aaaa",
		Hash:          "bbbb",
	}
	if err := store.Audit().Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if entry.ID != 42 {
		t.Fatalf("expected assigned id 42, got %d", entry.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditAppendDetectsForkedTail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").
		WithArgs(auditChainLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select hash from audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("someone-else-appended"))
	mock.ExpectRollback()

	entry := &audit.Entry{
		Timestamp:    time.Now().UTC(),
		Actor:        audit.Actor{UserID: "u-1", Role: "ADMIN"},
		Action:       audit.ActionLoginSuccess,
		ResourceType: "SESSION",
		PreviousHash: "stale-tail",
		Hash:         "bbbb",
	}
	err := store.Audit().Append(context.Background(), entry)
	if !errors.Is(err, audit.ErrChainConflict) {
		t.Fatalf("expected ErrChainConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserFindByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select .+ from users").
		WithArgs("missing@afripay.test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Users().FindByEmail(context.Background(), "missing@afripay.test")
	if !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("expected user.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionMarkInactiveMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update sessions set is_active = false").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Sessions().MarkInactive(context.Background(), "missing")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
