package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"afripay.org/internal/audit"
	"afripay.org/internal/ids"
	"afripay.org/internal/notify"
	"afripay.org/internal/obs"
	"afripay.org/internal/permission"
	"afripay.org/internal/user"
)

const (
	minRejectReasonLen     = 10
	minEmergencyJustifyLen = 50
	emergencyNotePrefix    = "EMERGENCY ACCESS: "
	resourceTypeRequest    = "ACCESS_REQUEST"
	resourceTypeUserGrants = "USER_PERMISSIONS"
)

// Workflow coordinates access request creation, review, expiry and
// break-glass grants.
type Workflow struct {
	store    Store
	users    user.Store
	registry *permission.Registry
	ledger   *audit.Ledger
	notifier notify.Notifier
	now      func() time.Time
}

// WorkflowOption configures the Workflow.
type WorkflowOption func(*Workflow)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) WorkflowOption {
	return func(w *Workflow) {
		if fn != nil {
			w.now = fn
		}
	}
}

// WithNotifier sets the fire-and-forget notification collaborator.
func WithNotifier(n notify.Notifier) WorkflowOption {
	return func(w *Workflow) { w.notifier = n }
}

// NewWorkflow constructs the access request workflow.
func NewWorkflow(store Store, users user.Store, registry *permission.Registry, ledger *audit.Ledger, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		store:    store,
		users:    users,
		registry: registry,
		ledger:   ledger,
		notifier: notify.LogNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateParams carries the inputs for a new access request. The requester
// identity comes from the authenticated actor.
type CreateParams struct {
	Requester     audit.Actor
	TargetUserID  string
	Codes         []string
	Justification string
	Urgency       Urgency
}

// Create submits a new PENDING request. The requester must hold a
// managerial role and every requested code; requesting for oneself is
// rejected outright.
func (w *Workflow) Create(ctx context.Context, p CreateParams) (Request, error) {
	p.TargetUserID = strings.TrimSpace(p.TargetUserID)
	if p.TargetUserID == "" {
		return Request{}, fmt.Errorf("%w: target user is required", ErrInvalidInput)
	}
	codes := dedupeCodes(p.Codes)
	if len(codes) == 0 {
		return Request{}, fmt.Errorf("%w: at least one permission code is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.Justification) == "" {
		return Request{}, fmt.Errorf("%w: justification is required", ErrInvalidInput)
	}
	if p.Urgency == "" {
		p.Urgency = UrgencyMedium
	}
	if !p.Urgency.Valid() {
		return Request{}, fmt.Errorf("%w: unknown urgency %q", ErrInvalidInput, p.Urgency)
	}

	requester, err := w.users.Find(ctx, p.Requester.UserID)
	if err != nil {
		return Request{}, fmt.Errorf("%w: requester", ErrNotFound)
	}
	if !user.Managerial(requester.Role) {
		return Request{}, fmt.Errorf("%w: only managers can submit access requests", ErrForbidden)
	}
	if p.Requester.UserID == p.TargetUserID {
		return Request{}, fmt.Errorf("%w: cannot create access request for yourself", ErrInvalidInput)
	}
	if _, err := w.users.Find(ctx, p.TargetUserID); err != nil {
		return Request{}, fmt.Errorf("%w: target user", ErrNotFound)
	}
	if err := w.registry.Resolve(ctx, codes); err != nil {
		return Request{}, err
	}

	// A requester can only delegate privileges it already possesses.
	held, err := w.ActiveCodes(ctx, p.Requester.UserID)
	if err != nil {
		return Request{}, err
	}
	heldSet := permission.GrantSet(held)
	var missing []string
	for _, c := range codes {
		if !permission.Evaluate(heldSet, c, nil) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return Request{}, &MissingPermissionsError{Missing: missing}
	}

	now := w.now().UTC()
	req := Request{
		ID:            ids.New(),
		RequesterID:   p.Requester.UserID,
		TargetUserID:  p.TargetUserID,
		Codes:         codes,
		Justification: strings.TrimSpace(p.Justification),
		Urgency:       p.Urgency,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(RequestTTL),
	}
	if err := w.store.Requests().Create(ctx, &req); err != nil {
		return Request{}, err
	}
	obs.RequestTransition(string(StatusPending))

	if _, err := w.ledger.Append(ctx, audit.Entry{
		Actor:        p.Requester,
		Action:       audit.ActionAccessRequestCreated,
		ResourceType: resourceTypeRequest,
		ResourceID:   req.ID,
		After:        requestSnapshot(&req),
	}); err != nil {
		return Request{}, err
	}

	notify.Dispatch(ctx, w.notifier, notify.Message{
		Channel:   notify.ChannelEmail,
		Recipient: p.TargetUserID,
		Subject:   "Access request submitted",
		Body:      fmt.Sprintf("Request %s for %s is awaiting review.", req.ID, strings.Join(codes, ", ")),
	})
	return req, nil
}

// Approve transitions a PENDING request to APPROVED and writes one grant
// per requested code atomically. Separation of duties: the approver may
// be neither the requester nor the target.
func (w *Workflow) Approve(ctx context.Context, requestID string, approver audit.Actor, reason string) (Request, error) {
	req, err := w.store.Requests().Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: request already %s", ErrAlreadyReviewed, strings.ToLower(string(req.Status)))
	}
	now := w.now().UTC()
	if req.IsExpired(now) {
		w.expireOnTouch(ctx, req, now)
		return Request{}, ErrExpired
	}
	if approver.UserID == req.RequesterID {
		return Request{}, fmt.Errorf("%w: cannot approve your own request", ErrSoDViolation)
	}
	if approver.UserID == req.TargetUserID {
		return Request{}, fmt.Errorf("%w: cannot approve request for yourself", ErrSoDViolation)
	}

	grants := make([]Grant, 0, len(req.Codes))
	for _, code := range req.Codes {
		grants = append(grants, Grant{
			ID:        ids.New(),
			UserID:    req.TargetUserID,
			Code:      code,
			GrantedBy: approver.UserID,
			GrantedAt: now,
		})
	}

	ok, err := w.store.Approve(ctx, req.ID, approver.UserID, strings.TrimSpace(reason), now, grants)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, fmt.Errorf("%w: request already reviewed", ErrAlreadyReviewed)
	}

	req.Status = StatusApproved
	req.ReviewedAt = &now
	req.ReviewedBy = approver.UserID
	req.ReviewReason = strings.TrimSpace(reason)
	obs.RequestTransition(string(StatusApproved))

	if _, err := w.ledger.Append(ctx, audit.Entry{
		Actor:        approver,
		Action:       audit.ActionAccessRequestApproved,
		ResourceType: resourceTypeRequest,
		ResourceID:   req.ID,
		After:        requestSnapshot(req),
		Metadata: map[string]any{
			"grantedPermissions": req.Codes,
			"targetUserId":       req.TargetUserID,
		},
	}); err != nil {
		return Request{}, err
	}

	notify.Dispatch(ctx, w.notifier, notify.Message{
		Channel:   notify.ChannelEmail,
		Recipient: req.RequesterID,
		Subject:   "Access request approved",
		Body:      fmt.Sprintf("Request %s was approved.", req.ID),
	})
	return *req, nil
}

// Reject transitions a PENDING request to REJECTED. The reason is
// mandatory and must carry at least ten characters.
func (w *Workflow) Reject(ctx context.Context, requestID string, reviewer audit.Actor, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < minRejectReasonLen {
		return Request{}, fmt.Errorf("%w: rejection reason required (minimum %d characters)", ErrInvalidInput, minRejectReasonLen)
	}
	req, err := w.store.Requests().Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: request already %s", ErrAlreadyReviewed, strings.ToLower(string(req.Status)))
	}
	now := w.now().UTC()
	if req.IsExpired(now) {
		w.expireOnTouch(ctx, req, now)
		return Request{}, ErrExpired
	}

	ok, err := w.store.Requests().MarkReviewed(ctx, req.ID, StatusRejected, reviewer.UserID, reason, now)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, fmt.Errorf("%w: request already reviewed", ErrAlreadyReviewed)
	}

	req.Status = StatusRejected
	req.ReviewedAt = &now
	req.ReviewedBy = reviewer.UserID
	req.ReviewReason = reason
	obs.RequestTransition(string(StatusRejected))

	if _, err := w.ledger.Append(ctx, audit.Entry{
		Actor:        reviewer,
		Action:       audit.ActionAccessRequestRejected,
		ResourceType: resourceTypeRequest,
		ResourceID:   req.ID,
		After:        requestSnapshot(req),
		Metadata:     map[string]any{"reason": reason},
	}); err != nil {
		return Request{}, err
	}

	notify.Dispatch(ctx, w.notifier, notify.Message{
		Channel:   notify.ChannelEmail,
		Recipient: req.RequesterID,
		Subject:   "Access request rejected",
		Body:      fmt.Sprintf("Request %s was rejected: %s", req.ID, reason),
	})
	return *req, nil
}

// Get returns a single request.
func (w *Workflow) Get(ctx context.Context, requestID string) (*Request, error) {
	return w.store.Requests().Get(ctx, requestID)
}

// ListPending returns actionable requests, most urgent first, oldest
// first within the same urgency. Requests past their deadline are
// filtered out even before the sweep reaches them.
func (w *Workflow) ListPending(ctx context.Context) ([]Request, error) {
	reqs, err := w.store.Requests().ListPending(ctx)
	if err != nil {
		return nil, err
	}
	now := w.now().UTC()
	out := reqs[:0]
	for _, r := range reqs {
		if r.IsExpired(now) {
			continue
		}
		out = append(out, r)
	}
	SortPending(out)
	return out, nil
}

// ListByRequester returns the requests a manager has submitted.
func (w *Workflow) ListByRequester(ctx context.Context, requesterID string) ([]Request, error) {
	return w.store.Requests().ListByRequester(ctx, requesterID)
}

// ListForUser returns the requests targeting a given user.
func (w *Workflow) ListForUser(ctx context.Context, targetUserID string) ([]Request, error) {
	return w.store.Requests().ListForUser(ctx, targetUserID)
}

// ExpireSweep transitions every overdue PENDING request to EXPIRED and
// writes one audit entry per request. The transition is conditional on
// the current state, so concurrent or repeated sweeps are no-ops for
// requests another sweep already claimed. Returns the number of requests
// this invocation expired.
func (w *Workflow) ExpireSweep(ctx context.Context) (int, error) {
	obs.SweepRun()
	now := w.now().UTC()
	overdue, err := w.store.Requests().ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, req := range overdue {
		ok, err := w.store.Requests().MarkExpired(ctx, req.ID, now)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		expired++
		obs.RequestTransition(string(StatusExpired))

		before := requestSnapshot(&req)
		req.Status = StatusExpired
		if _, err := w.ledger.Append(ctx, audit.Entry{
			Actor:        audit.SystemActor,
			Action:       audit.ActionAccessRequestExpired,
			ResourceType: resourceTypeRequest,
			ResourceID:   req.ID,
			Before:       before,
			After:        requestSnapshot(&req),
			Metadata: map[string]any{
				"reason":      "Auto-expired after 7 days",
				"autoExpired": true,
			},
		}); err != nil {
			return expired, err
		}

		notify.Dispatch(ctx, w.notifier, notify.Message{
			Channel:   notify.ChannelEmail,
			Recipient: req.RequesterID,
			Subject:   "Access request expired",
			Body:      fmt.Sprintf("Request %s expired without review.", req.ID),
		})
	}
	return expired, nil
}

// EmergencyParams carries the inputs for a break-glass grant.
type EmergencyParams struct {
	Grantor       audit.Actor
	TargetUserID  string
	Codes         []string
	Justification string
}

// GrantEmergencyAccess bypasses the approval workflow entirely. Grants
// are time-boxed to 24 hours and the audit trail flags a mandatory
// post-hoc review.
func (w *Workflow) GrantEmergencyAccess(ctx context.Context, p EmergencyParams) ([]Grant, error) {
	p.Justification = strings.TrimSpace(p.Justification)
	if len(p.Justification) < minEmergencyJustifyLen {
		return nil, fmt.Errorf("%w: emergency access requires detailed justification (minimum %d characters)", ErrInvalidInput, minEmergencyJustifyLen)
	}
	p.TargetUserID = strings.TrimSpace(p.TargetUserID)
	if p.TargetUserID == "" {
		return nil, fmt.Errorf("%w: target user is required", ErrInvalidInput)
	}
	codes := dedupeCodes(p.Codes)
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: at least one permission code is required", ErrInvalidInput)
	}
	if _, err := w.users.Find(ctx, p.TargetUserID); err != nil {
		return nil, fmt.Errorf("%w: target user", ErrNotFound)
	}
	if err := w.registry.Resolve(ctx, codes); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	expiresAt := now.Add(EmergencyGrantTTL)
	grants := make([]Grant, 0, len(codes))
	for _, code := range codes {
		g := Grant{
			ID:        ids.New(),
			UserID:    p.TargetUserID,
			Code:      code,
			GrantedBy: p.Grantor.UserID,
			GrantedAt: now,
			ExpiresAt: &expiresAt,
			Notes:     emergencyNotePrefix + p.Justification,
		}
		if err := w.store.Grants().Put(ctx, &g); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}

	if _, err := w.ledger.Append(ctx, audit.Entry{
		Actor:        p.Grantor,
		Action:       audit.ActionEmergencyAccessGranted,
		ResourceType: resourceTypeUserGrants,
		ResourceID:   p.TargetUserID,
		After: map[string]any{
			"permissions": codes,
			"expiresAt":   expiresAt.Format(time.RFC3339Nano),
		},
		Metadata: map[string]any{
			"justification":         p.Justification,
			"requiresPostHocReview": true,
			"reviewDeadline":        expiresAt.Format(time.RFC3339Nano),
		},
	}); err != nil {
		return nil, err
	}

	notify.Dispatch(ctx, w.notifier, notify.Message{
		Channel:   notify.ChannelEmail,
		Recipient: p.TargetUserID,
		Subject:   "Emergency access granted",
		Body:      fmt.Sprintf("Break-glass access to %s expires at %s.", strings.Join(codes, ", "), expiresAt.Format(time.RFC3339)),
	})
	return grants, nil
}

// ActiveCodes returns the permission codes a user currently holds. It is
// the permission snapshot source for token issuance.
func (w *Workflow) ActiveCodes(ctx context.Context, userID string) ([]string, error) {
	grants, err := w.store.Grants().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := w.now().UTC()
	var codes []string
	for i := range grants {
		if grants[i].IsActive(now) {
			codes = append(codes, grants[i].Code)
		}
	}
	return codes, nil
}

// expireOnTouch performs the lazy PENDING -> EXPIRED transition when a
// review touches an overdue request. Failures are logged, not returned:
// the caller still reports ErrExpired.
func (w *Workflow) expireOnTouch(ctx context.Context, req *Request, now time.Time) {
	ok, err := w.store.Requests().MarkExpired(ctx, req.ID, now)
	if err != nil {
		obs.LogRequest(map[string]any{
			"ts":    now.Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "lazy expiry failed",
			"id":    req.ID,
			"err":   err.Error(),
		})
		return
	}
	if !ok {
		return
	}
	obs.RequestTransition(string(StatusExpired))
	before := requestSnapshot(req)
	after := *req
	after.Status = StatusExpired
	if _, err := w.ledger.Append(ctx, audit.Entry{
		Actor:        audit.SystemActor,
		Action:       audit.ActionAccessRequestExpired,
		ResourceType: resourceTypeRequest,
		ResourceID:   req.ID,
		Before:       before,
		After:        requestSnapshot(&after),
		Metadata:     map[string]any{"autoExpired": true},
	}); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    now.Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "lazy expiry audit failed",
			"id":    req.ID,
			"err":   err.Error(),
		})
	}
}

func requestSnapshot(r *Request) map[string]any {
	snap := map[string]any{
		"id":                    r.ID,
		"requester_id":          r.RequesterID,
		"target_user_id":        r.TargetUserID,
		"requested_permissions": r.Codes,
		"urgency":               string(r.Urgency),
		"status":                string(r.Status),
		"created_at":            r.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":            r.ExpiresAt.Format(time.RFC3339Nano),
	}
	if r.ReviewedBy != "" {
		snap["reviewed_by"] = r.ReviewedBy
	}
	return snap
}

func dedupeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	var out []string
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
