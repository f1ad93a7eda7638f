package permission

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("permission code not found")
	ErrConflict     = errors.New("permission code already exists")
	ErrDeprecated   = errors.New("permission code is deprecated")
)

// Departments recognised by the permission catalog.
const (
	DepartmentFinance         = "FINANCE"
	DepartmentOperations      = "OPERATIONS"
	DepartmentCustomerSupport = "CUSTOMER_SUPPORT"
	DepartmentCompliance      = "COMPLIANCE"
	DepartmentIT              = "IT"
	DepartmentManagement      = "MANAGEMENT"
)

// Actions a permission code may carry as its last segment.
const (
	ActionView    = "VIEW"
	ActionEdit    = "EDIT"
	ActionCreate  = "CREATE"
	ActionDelete  = "DELETE"
	ActionApprove = "APPROVE"
	ActionExport  = "EXPORT"
)

var departments = map[string]struct{}{
	DepartmentFinance:         {},
	DepartmentOperations:      {},
	DepartmentCustomerSupport: {},
	DepartmentCompliance:      {},
	DepartmentIT:              {},
	DepartmentManagement:      {},
}

var actions = map[string]struct{}{
	ActionView:    {},
	ActionEdit:    {},
	ActionCreate:  {},
	ActionDelete:  {},
	ActionApprove: {},
	ActionExport:  {},
}

// codePattern matches the DEPT-RESOURCE-ACTION identifier form.
var codePattern = regexp.MustCompile(`^[A-Z]+-[A-Z_]+-[A-Z]+$`)

// Code is an immutable permission identifier with its deprecation chain.
type Code struct {
	Code            string     `json:"code"`
	Description     string     `json:"description"`
	Department      string     `json:"department"`
	Resource        string     `json:"resource"`
	Action          string     `json:"action"`
	Version         string     `json:"version"`
	Deprecated      bool       `json:"deprecated"`
	DeprecatedAt    *time.Time `json:"deprecated_at,omitempty"`
	ReplacementCode string     `json:"replacement_code,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CreatedBy       string     `json:"created_by,omitempty"`
}

// ValidCodeFormat reports whether code matches DEPT-RESOURCE-ACTION.
func ValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

// SplitCode breaks a code into its department, resource and action segments.
func SplitCode(code string) (dept, resource, action string, err error) {
	if !ValidCodeFormat(code) {
		return "", "", "", fmt.Errorf("%w: code must match DEPT-RESOURCE-ACTION, got %q", ErrInvalidInput, code)
	}
	parts := strings.SplitN(code, "-", 3)
	return parts[0], parts[1], parts[2], nil
}

// ValidDepartment reports whether the department is part of the catalog enum.
func ValidDepartment(dept string) bool {
	_, ok := departments[dept]
	return ok
}

// ValidAction reports whether the action is part of the catalog enum.
func ValidAction(action string) bool {
	_, ok := actions[action]
	return ok
}
