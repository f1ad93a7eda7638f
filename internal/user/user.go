package user

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("user not found")
)

// Roles mirror the platform-wide role enum.
const (
	RoleSuperuser = "SUPERUSER"
	RoleAdmin     = "ADMIN"
	RoleManager   = "MANAGER"
	RoleEmployee  = "EMPLOYEE"
	RoleCustomer  = "CUSTOMER"
	RoleAgent     = "AGENT"
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User is the identity record backing sessions and access requests.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FullName         string    `json:"full_name"`
	Role             string    `json:"role"`
	Department       string    `json:"department,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	PasswordHash     string    `json:"-"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Managerial reports whether the role may initiate privilege escalation
// requests on behalf of others.
func Managerial(role string) bool {
	return role == RoleManager || role == RoleSuperuser
}

// Store describes user lookups required by the identity core.
type Store interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}
