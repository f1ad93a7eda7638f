package access

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"afripay.org/internal/audit"
	"afripay.org/internal/permission"
	"afripay.org/internal/user"
)

type fixture struct {
	workflow *Workflow
	store    *InMemory
	ledger   *audit.InMemory
	registry *permission.Registry
	now      time.Time
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &now

	auditStore := audit.NewInMemory()
	ledger := audit.NewLedger(auditStore, audit.WithClock(func() time.Time { return *clock }))

	permStore := permission.NewInMemory()
	registry := permission.NewRegistry(permStore, ledger)
	actor := audit.Actor{UserID: "admin", Role: user.RoleAdmin}
	for _, c := range []string{"FIN-REPORTS-VIEW", "FIN-REPORTS-EXPORT", "FIN-ANALYTICS-VIEW", "OPS-USERS-EDIT"} {
		if _, err := registry.Create(context.Background(), permission.Code{
			Code: c, Description: "seeded", Department: permission.DepartmentFinance,
		}, actor); err != nil {
			t.Fatalf("seed permission %s: %v", c, err)
		}
	}

	users := user.NewInMemory(
		user.User{ID: "manager", Role: user.RoleManager, Email: "m@afripay.test", Status: user.StatusActive},
		user.User{ID: "super", Role: user.RoleSuperuser, Email: "s@afripay.test", Status: user.StatusActive},
		user.User{ID: "target", Role: user.RoleEmployee, Email: "t@afripay.test", Status: user.StatusActive},
		user.User{ID: "employee", Role: user.RoleEmployee, Email: "e@afripay.test", Status: user.StatusActive},
	)

	store := NewInMemory()
	wf := NewWorkflow(store, users, registry, ledger, WithClock(func() time.Time { return *clock }))
	return &fixture{workflow: wf, store: store, ledger: auditStore, registry: registry, now: now, clock: clock}
}

func (f *fixture) grant(t *testing.T, userID string, codes ...string) {
	t.Helper()
	for _, c := range codes {
		g := Grant{ID: "seed-" + userID + "-" + c, UserID: userID, Code: c, GrantedBy: "admin", GrantedAt: *f.clock}
		if err := f.store.Grants().Put(context.Background(), &g); err != nil {
			t.Fatalf("seed grant: %v", err)
		}
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func managerActor() audit.Actor { return audit.Actor{UserID: "manager", Role: user.RoleManager} }
func superActor() audit.Actor   { return audit.Actor{UserID: "super", Role: user.RoleSuperuser} }

func TestCreateReportsMissingPermissions(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW", "FIN-REPORTS-EXPORT")

	_, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     managerActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-EXPORT", "FIN-ANALYTICS-VIEW"},
		Justification: "Quarterly reporting handover",
	})
	var missing *MissingPermissionsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingPermissionsError, got %v", err)
	}
	if len(missing.Missing) != 1 || missing.Missing[0] != "FIN-ANALYTICS-VIEW" {
		t.Fatalf("expected exactly the unheld code, got %v", missing.Missing)
	}
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("missing-permissions error should unwrap to ErrForbidden")
	}
}

func TestCreateRequiresManagerialRole(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "employee", "FIN-REPORTS-VIEW")

	_, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     audit.Actor{UserID: "employee", Role: user.RoleEmployee},
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: "Needs report access",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateRejectsSelfTarget(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW")

	_, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     managerActor(),
		TargetUserID:  "manager",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: "Self escalation attempt",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateSetsSevenDayDeadline(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW")

	req, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     managerActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW", " FIN-REPORTS-VIEW "},
		Justification: "Report access for audit season",
		Urgency:       UrgencyHigh,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(req.Codes) != 1 {
		t.Fatalf("expected deduplicated codes, got %v", req.Codes)
	}
	if want := f.now.Add(RequestTTL); !req.ExpiresAt.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, req.ExpiresAt)
	}
	if got := req.DaysUntilExpiry(f.now); got != 7 {
		t.Fatalf("expected 7 days until expiry, got %d", got)
	}
}

func TestApproveGrantsAndAudits(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-EXPORT")

	req, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     managerActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-EXPORT"},
		Justification: "Export duty during quarter close",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	approved, err := f.workflow.Approve(context.Background(), req.ID, superActor(), "ok to delegate")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != StatusApproved || approved.ReviewedBy != "super" {
		t.Fatalf("unexpected review state: %+v", approved)
	}

	codes, err := f.workflow.ActiveCodes(context.Background(), "target")
	if err != nil {
		t.Fatalf("ActiveCodes: %v", err)
	}
	if len(codes) != 1 || codes[0] != "FIN-REPORTS-EXPORT" {
		t.Fatalf("expected one grant for target, got %v", codes)
	}

	var found bool
	for _, e := range f.ledger.Entries() {
		if e.Action == audit.ActionAccessRequestApproved && e.ResourceID == req.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an approval audit entry")
	}

	// A second review must observe the terminal state.
	if _, err := f.workflow.Approve(context.Background(), req.ID, superActor(), "again"); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}
}

func TestApproveSeparationOfDuties(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW")

	req, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     managerActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: "Access for reporting duties",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.workflow.Approve(context.Background(), req.ID, managerActor(), "self approve"); !errors.Is(err, ErrSoDViolation) {
		t.Fatalf("requester approval: expected ErrSoDViolation, got %v", err)
	}
	if _, err := f.workflow.Approve(context.Background(), req.ID, audit.Actor{UserID: "target", Role: user.RoleManager}, "own benefit"); !errors.Is(err, ErrSoDViolation) {
		t.Fatalf("target approval: expected ErrSoDViolation, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW")

	req, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     managerActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: "Access for reporting duties",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.workflow.Reject(context.Background(), req.ID, superActor(), "too short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short reason, got %v", err)
	}
	rejected, err := f.workflow.Reject(context.Background(), req.ID, superActor(), "scope of access is too broad")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("expected REJECTED, got %s", rejected.Status)
	}
	if codes, _ := f.workflow.ActiveCodes(context.Background(), "target"); len(codes) != 0 {
		t.Fatalf("rejection must not create grants, got %v", codes)
	}
}

func TestReviewAfterDeadlineExpires(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW")

	req, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     managerActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: "Access for reporting duties",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	f.advance(RequestTTL + time.Hour)

	if _, err := f.workflow.Approve(context.Background(), req.ID, superActor(), "late"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	got, err := f.workflow.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("lazy expiry should have transitioned the request, got %s", got.Status)
	}
	if codes, _ := f.workflow.ActiveCodes(context.Background(), "target"); len(codes) != 0 {
		t.Fatalf("expired request must not create grants, got %v", codes)
	}
}

func TestExpireSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW", "FIN-REPORTS-EXPORT")

	for _, target := range []string{"target", "employee"} {
		if _, err := f.workflow.Create(context.Background(), CreateParams{
			Requester:     managerActor(),
			TargetUserID:  target,
			Codes:         []string{"FIN-REPORTS-VIEW"},
			Justification: "Access for reporting duties",
		}); err != nil {
			t.Fatalf("Create for %s: %v", target, err)
		}
	}

	f.advance(RequestTTL + time.Minute)

	n, err := f.workflow.ExpireSweep(context.Background())
	if err != nil {
		t.Fatalf("ExpireSweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expired, got %d", n)
	}

	again, err := f.workflow.ExpireSweep(context.Background())
	if err != nil {
		t.Fatalf("second ExpireSweep: %v", err)
	}
	if again != 0 {
		t.Fatalf("second sweep must be a no-op, expired %d", again)
	}

	expiredEntries := 0
	for _, e := range f.ledger.Entries() {
		if e.Action == audit.ActionAccessRequestExpired {
			expiredEntries++
		}
	}
	if expiredEntries != 2 {
		t.Fatalf("expected exactly one audit entry per expiry, got %d", expiredEntries)
	}
}

func TestListPendingOrdersByUrgency(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW", "FIN-REPORTS-EXPORT", "FIN-ANALYTICS-VIEW")

	mk := func(codes []string, urgency Urgency) Request {
		req, err := f.workflow.Create(context.Background(), CreateParams{
			Requester:     managerActor(),
			TargetUserID:  "target",
			Codes:         codes,
			Justification: "Access for reporting duties",
			Urgency:       urgency,
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		f.advance(time.Minute)
		return req
	}

	low := mk([]string{"FIN-REPORTS-VIEW"}, UrgencyLow)
	critical := mk([]string{"FIN-REPORTS-EXPORT"}, UrgencyCritical)
	medium := mk([]string{"FIN-ANALYTICS-VIEW"}, UrgencyMedium)

	pending, err := f.workflow.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	if pending[0].ID != critical.ID || pending[1].ID != medium.ID || pending[2].ID != low.ID {
		t.Fatalf("wrong order: %s %s %s", pending[0].Urgency, pending[1].Urgency, pending[2].Urgency)
	}
}

func TestEmergencyAccess(t *testing.T) {
	f := newFixture(t)

	longJustification := strings.Repeat("production incident requires immediate access ", 2)

	if _, err := f.workflow.GrantEmergencyAccess(context.Background(), EmergencyParams{
		Grantor:       superActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: "too short",
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected justification length check, got %v", err)
	}

	grants, err := f.workflow.GrantEmergencyAccess(context.Background(), EmergencyParams{
		Grantor:       superActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: longJustification,
	})
	if err != nil {
		t.Fatalf("GrantEmergencyAccess: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(grants))
	}
	g := grants[0]
	if g.ExpiresAt == nil || !g.ExpiresAt.Equal(f.now.Add(EmergencyGrantTTL)) {
		t.Fatalf("expected 24h expiry, got %v", g.ExpiresAt)
	}
	if !strings.HasPrefix(g.Notes, "EMERGENCY ACCESS: ") {
		t.Fatalf("expected emergency note prefix, got %q", g.Notes)
	}

	var entry *audit.Entry
	for _, e := range f.ledger.Entries() {
		if e.Action == audit.ActionEmergencyAccessGranted {
			cp := e
			entry = &cp
		}
	}
	if entry == nil {
		t.Fatalf("expected an emergency audit entry")
	}
	if v, ok := entry.Metadata["requiresPostHocReview"].(bool); !ok || !v {
		t.Fatalf("expected requiresPostHocReview metadata, got %v", entry.Metadata)
	}

	// Grants vanish from the active snapshot after 24 hours.
	f.advance(EmergencyGrantTTL + time.Minute)
	if codes, _ := f.workflow.ActiveCodes(context.Background(), "target"); len(codes) != 0 {
		t.Fatalf("expected 0 active codes after expiry, got %v", codes)
	}
}

func TestApproveSupersedesEmergencyGrant(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "manager", "FIN-REPORTS-VIEW")

	longJustification := strings.Repeat("incident bridge access for settlement recovery ", 2)
	if _, err := f.workflow.GrantEmergencyAccess(context.Background(), EmergencyParams{
		Grantor:       superActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: longJustification,
	}); err != nil {
		t.Fatalf("GrantEmergencyAccess: %v", err)
	}

	req, err := f.workflow.Create(context.Background(), CreateParams{
		Requester:     managerActor(),
		TargetUserID:  "target",
		Codes:         []string{"FIN-REPORTS-VIEW"},
		Justification: "Permanent access after the incident",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.workflow.Approve(context.Background(), req.ID, superActor(), "approved"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// The permanent grant replaced the time-boxed one for the same code.
	f.advance(EmergencyGrantTTL + time.Hour)
	codes, err := f.workflow.ActiveCodes(context.Background(), "target")
	if err != nil {
		t.Fatalf("ActiveCodes: %v", err)
	}
	if len(codes) != 1 || codes[0] != "FIN-REPORTS-VIEW" {
		t.Fatalf("expected the permanent grant to survive, got %v", codes)
	}
}
