package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"afripay.org/internal/obs"
)

// Genesis is the previous-hash value of the very first ledger entry.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

const appendAttempts = 3

// Store persists ledger entries. Append assigns the entry ID and must
// fail with ErrChainConflict when the entry's previous hash no longer
// matches the tail, so the ledger can recompute and retry. Range treats
// a toID of zero as the current tail.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Last(ctx context.Context) (*Entry, error)
	Range(ctx context.Context, fromID, toID int64) ([]Entry, error)
}

// sensitiveKeys are redacted from before/after snapshots prior to hashing.
var sensitiveKeys = map[string]struct{}{
	"password":              {},
	"passwordHash":          {},
	"password_hash":         {},
	"twoFactorSecret":       {},
	"two_factor_secret":     {},
	"biometricTemplateId":   {},
	"biometric_template_id": {},
}

const redactedPlaceholder = "[REDACTED]"

// Ledger is the append-only, hash-chained audit log.
type Ledger struct {
	store Store
	now   func() time.Time

	// Serializes in-process appends; cross-process races are resolved by
	// the store's ErrChainConflict contract.
	mu sync.Mutex
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a Ledger over the given store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append redacts, chains and persists the entry, returning it with its
// assigned ID and hashes. Entries are never updated or deleted afterward.
func (l *Ledger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if strings.TrimSpace(string(entry.Action)) == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	if strings.TrimSpace(entry.Actor.UserID) == "" {
		return Entry{}, fmt.Errorf("%w: actor user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(entry.ResourceType) == "" {
		return Entry{}, fmt.Errorf("%w: resource type is required", ErrInvalidInput)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	// timestamptz stores microseconds; hash what the store can return.
	entry.Timestamp = entry.Timestamp.Truncate(time.Microsecond)
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}
	entry.Before = Redact(entry.Before)
	entry.After = Redact(entry.After)

	l.mu.Lock()
	defer l.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		prev := Genesis
		last, err := l.store.Last(ctx)
		if err != nil {
			return Entry{}, err
		}
		if last != nil {
			prev = last.Hash
		}
		entry.PreviousHash = prev
		hash, err := ComputeHash(prev, entry)
		if err != nil {
			return Entry{}, err
		}
		entry.Hash = hash

		err = l.store.Append(ctx, &entry)
		if err == nil {
			obs.AuditAppended()
			return entry, nil
		}
		if err != ErrChainConflict {
			return Entry{}, err
		}
		lastErr = err
	}
	return Entry{}, lastErr
}

// VerifyChain recomputes hashes over entries [fromID, toID] and returns an
// *IntegrityError at the first index where the recomputation diverges.
func (l *Ledger) VerifyChain(ctx context.Context, fromID, toID int64) error {
	entries, err := l.store.Range(ctx, fromID, toID)
	if err != nil {
		return err
	}
	prev := ""
	for i, e := range entries {
		expectedPrev := prev
		if i == 0 {
			// The first verified entry anchors the window.
			expectedPrev = e.PreviousHash
			if fromID <= 1 {
				expectedPrev = Genesis
			}
		}
		if e.PreviousHash != expectedPrev {
			return &IntegrityError{ID: e.ID, Stored: e.PreviousHash, Computed: expectedPrev}
		}
		computed, err := ComputeHash(e.PreviousHash, e)
		if err != nil {
			return err
		}
		if computed != e.Hash {
			return &IntegrityError{ID: e.ID, Stored: e.Hash, Computed: computed}
		}
		prev = e.Hash
	}
	return nil
}

// hashPayload is the canonical hashed content of an entry. The store
// assigned ID and the hashes themselves are excluded; map values are safe
// because encoding/json marshals map keys in sorted order.
type hashPayload struct {
	Timestamp     string         `json:"ts"`
	Actor         Actor          `json:"actor"`
	Action        ActionType     `json:"action"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	Before        map[string]any `json:"before"`
	After         map[string]any `json:"after"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata"`
}

// ComputeHash derives the entry hash from the previous hash and the
// canonical JSON encoding of the entry content.
func ComputeHash(previousHash string, entry Entry) (string, error) {
	payload := hashPayload{
		Timestamp:     entry.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		Actor:         entry.Actor,
		Action:        entry.Action,
		ResourceType:  entry.ResourceType,
		ResourceID:    entry.ResourceID,
		Before:        entry.Before,
		After:         entry.After,
		CorrelationID: entry.CorrelationID,
		Metadata:      entry.Metadata,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(append([]byte(previousHash), data...))
	return hex.EncodeToString(sum[:]), nil
}

// Redact returns a copy of the snapshot with known-sensitive fields
// replaced. Nested objects are walked; the input is not mutated.
func Redact(snapshot map[string]any) map[string]any {
	if snapshot == nil {
		return nil
	}
	out := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		if _, sensitive := sensitiveKeys[k]; sensitive {
			out[k] = redactedPlaceholder
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}
