package audit

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("audit entry not found")

	// ErrChainConflict is returned by stores when another writer appended
	// to the ledger between the tail read and the insert.
	ErrChainConflict = errors.New("audit chain conflict")
)

// IntegrityError reports the first entry whose recomputed hash does not
// match the stored one. It is not locally recoverable: automated trust in
// the ledger must halt and the failure must surface to operators.
type IntegrityError struct {
	ID       int64
	Stored   string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit chain integrity failure at entry %d: stored %s, recomputed %s", e.ID, e.Stored, e.Computed)
}

// ActionType enumerates the sensitive state changes recorded in the ledger.
type ActionType string

const (
	ActionUserCreated             ActionType = "USER_CREATED"
	ActionUserUpdated             ActionType = "USER_UPDATED"
	ActionUserDeleted             ActionType = "USER_DELETED"
	ActionPermissionGranted       ActionType = "PERMISSION_GRANTED"
	ActionPermissionRevoked       ActionType = "PERMISSION_REVOKED"
	ActionAccessRequestCreated    ActionType = "ACCESS_REQUEST_CREATED"
	ActionAccessRequestApproved   ActionType = "ACCESS_REQUEST_APPROVED"
	ActionAccessRequestRejected   ActionType = "ACCESS_REQUEST_REJECTED"
	ActionAccessRequestExpired    ActionType = "ACCESS_REQUEST_EXPIRED"
	ActionLoginSuccess            ActionType = "LOGIN_SUCCESS"
	ActionLoginFailed             ActionType = "LOGIN_FAILED"
	ActionLogout                  ActionType = "LOGOUT"
	ActionMFAVerified             ActionType = "MFA_VERIFIED"
	ActionSessionCreated          ActionType = "SESSION_CREATED"
	ActionSessionRevoked          ActionType = "SESSION_REVOKED"
	ActionPermissionCodeCreated   ActionType = "PERMISSION_CODE_CREATED"
	ActionPermissionCodeDeprecate ActionType = "PERMISSION_CODE_DEPRECATED"
	ActionEmergencyAccessGranted  ActionType = "EMERGENCY_ACCESS_GRANTED"
)

// Actor identifies who performed the recorded action.
type Actor struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// SystemActor is used for autonomous transitions such as the expiry sweep.
var SystemActor = Actor{UserID: "SYSTEM", Role: "SYSTEM"}

// Entry is an immutable, hash-chained audit record. ID is assigned by the
// store on append and is excluded from the hashed payload; ordering is
// protected by the previous-hash chain instead.
type Entry struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Actor         Actor          `json:"actor"`
	Action        ActionType     `json:"action"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id,omitempty"`
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PreviousHash  string         `json:"previous_hash"`
	Hash          string         `json:"hash"`
}
