package rbac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Role is the fixed employee role set.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleManager         Role = "manager"
	RoleTeller          Role = "teller"
	RoleCustomerService Role = "customer_service"
)

// Roles lists every recognised role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleTeller, RoleCustomerService}
}

// ParseRole maps a stored role name onto the closed role set.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Roles() {
		if role == known {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownRole, raw)
}

// Capability is a named flag granting an operation beyond the role baseline.
type Capability string

const (
	CapCreateCustomer      Capability = "can_create_customer"
	CapEditCustomer        Capability = "can_edit_customer"
	CapFreezeAccount       Capability = "can_freeze_account"
	CapCloseAccount        Capability = "can_close_account"
	CapViewAllTransactions Capability = "can_view_all_transactions"
	CapUpdateExchangeRates Capability = "can_update_exchange_rates"
	CapEditExchangeRates   Capability = "can_edit_exchange_rates"
)

// Capabilities lists every recognised capability.
func Capabilities() []Capability {
	return []Capability{
		CapCreateCustomer,
		CapEditCustomer,
		CapFreezeAccount,
		CapCloseAccount,
		CapViewAllTransactions,
		CapUpdateExchangeRates,
		CapEditExchangeRates,
	}
}

func knownCapability(c Capability) bool {
	for _, known := range Capabilities() {
		if c == known {
			return true
		}
	}
	return false
}

// PermissionSet holds the capabilities granted to one employee.
type PermissionSet map[Capability]bool

// NewPermissionSet builds a set from the given capabilities.
func NewPermissionSet(caps ...Capability) PermissionSet {
	set := make(PermissionSet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// PermissionsFromFlags converts stored boolean flags into a PermissionSet.
// Flags outside the capability set are dropped and returned separately.
func PermissionsFromFlags(flags map[string]bool) (PermissionSet, []string) {
	set := make(PermissionSet, len(flags))
	var unknown []string
	for name, enabled := range flags {
		c := Capability(strings.ToLower(strings.TrimSpace(name)))
		if !knownCapability(c) {
			unknown = append(unknown, name)
			continue
		}
		if enabled {
			set[c] = true
		}
	}
	sort.Strings(unknown)
	return set, unknown
}

// Has reports whether c is granted.
func (p PermissionSet) Has(c Capability) bool {
	return p != nil && p[c]
}

// List returns granted capabilities in a stable order.
func (p PermissionSet) List() []Capability {
	out := make([]Capability, 0, len(p))
	for _, c := range Capabilities() {
		if p.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Flags renders the set in its stored form.
func (p PermissionSet) Flags() map[string]bool {
	flags := make(map[string]bool, len(p))
	for _, c := range p.List() {
		flags[string(c)] = true
	}
	return flags
}

// Identity is the authenticated employee acting on a request. It is passed
// explicitly to every ledger operation.
type Identity struct {
	EmployeeID  uuid.UUID     `json:"employee_id"`
	UserID      uuid.UUID     `json:"user_id"`
	Code        string        `json:"code"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	BranchID    *uuid.UUID    `json:"branch_id,omitempty"`
	BranchName  string        `json:"branch_name,omitempty"`
}

// Can reports whether the identity may perform op.
func (id Identity) Can(op Operation) bool {
	return Authorize(id.Role, id.Permissions, op)
}

// Require returns a *DeniedError when the identity may not perform op.
func (id Identity) Require(op Operation) error {
	if id.Can(op) {
		return nil
	}
	return &DeniedError{Operation: op, Capability: RequiredCapability(op), Role: id.Role}
}

// AllowedOperations lists every operation the identity may perform.
func (id Identity) AllowedOperations() []Operation {
	var out []Operation
	for _, op := range Operations() {
		if id.Can(op) {
			out = append(out, op)
		}
	}
	return out
}
