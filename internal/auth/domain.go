package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okash/okash-console/internal/rbac"
)

// User represents a login account.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Employee is the staff record bound to a user. Permissions holds the raw
// stored flags, unknown names included.
type Employee struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Code        string
	Name        string
	Email       string
	Role        string
	Permissions map[string]bool
	BranchID    *uuid.UUID
	BranchName  string
	IsActive    bool
}

// ProvisionInput creates a user and its employee record in one step.
type ProvisionInput struct {
	Email       string     `validate:"required,email"`
	Password    string     `validate:"required,min=8"`
	Code        string     `validate:"required,max=32"`
	Name        string     `validate:"required,max=200"`
	Role        rbac.Role  `validate:"required"`
	Permissions []rbac.Capability
	BranchID    *uuid.UUID
}

var (
	// ErrInvalidCredentials is returned for any login failure so the caller
	// cannot tell unknown emails from wrong passwords.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrNoSession indicates the session does not carry a usable user id.
	ErrNoSession = fmt.Errorf("auth: no session: %w", rbac.ErrUnauthenticated)
	// ErrIdentityNotProvisioned indicates a user without an active employee record.
	ErrIdentityNotProvisioned = fmt.Errorf("auth: identity not provisioned: %w", rbac.ErrUnauthenticated)
	// ErrEmailTaken rejects provisioning a duplicate login.
	ErrEmailTaken = errors.New("auth: email already registered")
)
