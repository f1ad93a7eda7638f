package permission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"afripay.org/internal/audit"
)

// Store persists the permission catalog.
type Store interface {
	Create(ctx context.Context, code *Code) error
	Get(ctx context.Context, code string) (*Code, error)
	List(ctx context.Context, filter ListFilter) ([]Code, error)
	MarkDeprecated(ctx context.Context, code, replacement string, at time.Time) error
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Department string
	Deprecated *bool
	Search     string
}

// Registry is the versioned catalog of permission codes.
type Registry struct {
	store  Store
	ledger *audit.Ledger
	now    func() time.Time
}

// RegistryOption configures Registry behavior.
type RegistryOption func(*Registry)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry constructs a Registry.
func NewRegistry(store Store, ledger *audit.Ledger, opts ...RegistryOption) *Registry {
	r := &Registry{store: store, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new permission code. The code must be well formed,
// unique, and reference departments and actions from the catalog enums.
func (r *Registry) Create(ctx context.Context, code Code, actor audit.Actor) (Code, error) {
	code.Code = strings.TrimSpace(code.Code)
	_, resource, action, err := SplitCode(code.Code)
	if err != nil {
		return Code{}, err
	}
	code.Description = strings.TrimSpace(code.Description)
	if code.Description == "" {
		return Code{}, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if !ValidDepartment(code.Department) {
		return Code{}, fmt.Errorf("%w: unknown department %q", ErrInvalidInput, code.Department)
	}
	if !ValidAction(action) {
		return Code{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	code.Resource = resource
	code.Action = action
	if code.Version == "" {
		code.Version = "1.0.0"
	}
	code.Deprecated = false
	code.DeprecatedAt = nil
	code.CreatedAt = r.now().UTC()
	code.CreatedBy = actor.UserID

	if code.ReplacementCode != "" {
		if err := r.checkReplacement(ctx, code.Code, code.ReplacementCode); err != nil {
			return Code{}, err
		}
	}

	if err := r.store.Create(ctx, &code); err != nil {
		return Code{}, err
	}

	_, err = r.ledger.Append(ctx, audit.Entry{
		Actor:        actor,
		Action:       audit.ActionPermissionCodeCreated,
		ResourceType: "PERMISSION_CODE",
		ResourceID:   code.Code,
		After: map[string]any{
			"code":        code.Code,
			"description": code.Description,
			"department":  code.Department,
			"version":     code.Version,
		},
	})
	if err != nil {
		return Code{}, err
	}
	return code, nil
}

// Deprecate marks a code deprecated, optionally pointing at a replacement.
// Deprecation is one way: a deprecated code is never reactivated.
func (r *Registry) Deprecate(ctx context.Context, codeID, replacement string, actor audit.Actor) error {
	codeID = strings.TrimSpace(codeID)
	existing, err := r.store.Get(ctx, codeID)
	if err != nil {
		return err
	}
	if existing.Deprecated {
		return fmt.Errorf("%w: %s", ErrDeprecated, codeID)
	}
	if replacement != "" {
		if err := r.checkReplacement(ctx, codeID, replacement); err != nil {
			return err
		}
	}
	at := r.now().UTC()
	if err := r.store.MarkDeprecated(ctx, codeID, replacement, at); err != nil {
		return err
	}

	_, err = r.ledger.Append(ctx, audit.Entry{
		Actor:        actor,
		Action:       audit.ActionPermissionCodeDeprecate,
		ResourceType: "PERMISSION_CODE",
		ResourceID:   codeID,
		Before:       map[string]any{"deprecated": false},
		After:        map[string]any{"deprecated": true, "replacement_code": replacement},
	})
	return err
}

// Get returns a single catalog entry.
func (r *Registry) Get(ctx context.Context, code string) (*Code, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	return r.store.Get(ctx, code)
}

// List returns catalog entries matching the filter.
func (r *Registry) List(ctx context.Context, filter ListFilter) ([]Code, error) {
	if filter.Department != "" && !ValidDepartment(filter.Department) {
		return nil, fmt.Errorf("%w: unknown department %q", ErrInvalidInput, filter.Department)
	}
	return r.store.List(ctx, filter)
}

// Resolve validates that every code exists and is not deprecated. It is
// the lookup used by the access-request workflow before granting.
func (r *Registry) Resolve(ctx context.Context, codes []string) error {
	for _, c := range codes {
		perm, err := r.store.Get(ctx, strings.TrimSpace(c))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, c)
		}
		if perm.Deprecated {
			if perm.ReplacementCode != "" {
				return fmt.Errorf("%w: %s (use %s instead)", ErrDeprecated, c, perm.ReplacementCode)
			}
			return fmt.Errorf("%w: %s", ErrDeprecated, c)
		}
	}
	return nil
}

// checkReplacement enforces that a replacement exists, is itself live,
// and does not point back at the code being replaced.
func (r *Registry) checkReplacement(ctx context.Context, code, replacement string) error {
	if replacement == code {
		return fmt.Errorf("%w: replacement cycle on %s", ErrInvalidInput, code)
	}
	repl, err := r.store.Get(ctx, replacement)
	if err != nil {
		return fmt.Errorf("%w: replacement %s", ErrNotFound, replacement)
	}
	if repl.Deprecated {
		return fmt.Errorf("%w: replacement %s is deprecated", ErrDeprecated, replacement)
	}
	if repl.ReplacementCode == code {
		return fmt.Errorf("%w: replacement cycle between %s and %s", ErrInvalidInput, code, replacement)
	}
	return nil
}
