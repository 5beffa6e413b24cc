package rbac

import (
	"errors"
	"fmt"
)

// Operation names an action gated by Authorize.
type Operation string

const (
	OpViewDashboard       Operation = "view_dashboard"
	OpManageCustomers     Operation = "manage_customers"
	OpManageTransactions  Operation = "manage_transactions"
	OpManageAds           Operation = "manage_ads"
	OpManageCards         Operation = "manage_cards"
	OpManageExchangeRates Operation = "manage_exchange_rates"
	OpAccessAdmin         Operation = "access_admin"
	OpFreezeAccount       Operation = "freeze_account"
	OpCloseAccount        Operation = "close_account"
	OpEditCustomer        Operation = "edit_customer"
)

type rule struct {
	roles  []Role
	grants []Capability
}

var rules = map[Operation]rule{
	OpViewDashboard:       {roles: []Role{RoleManager, RoleTeller, RoleCustomerService}},
	OpManageCustomers:     {roles: []Role{RoleManager}, grants: []Capability{CapCreateCustomer}},
	OpManageTransactions:  {roles: []Role{RoleManager, RoleTeller}, grants: []Capability{CapViewAllTransactions}},
	OpManageAds:           {roles: []Role{RoleManager}},
	OpManageCards:         {roles: []Role{RoleManager}},
	OpManageExchangeRates: {grants: []Capability{CapUpdateExchangeRates, CapEditExchangeRates}},
	OpAccessAdmin:         {},
	OpFreezeAccount:       {grants: []Capability{CapFreezeAccount}},
	OpCloseAccount:        {grants: []Capability{CapCloseAccount}},
	OpEditCustomer:        {grants: []Capability{CapEditCustomer}},
}

// Operations lists every gated operation in display order.
func Operations() []Operation {
	return []Operation{
		OpViewDashboard,
		OpManageCustomers,
		OpManageTransactions,
		OpManageAds,
		OpManageCards,
		OpManageExchangeRates,
		OpAccessAdmin,
		OpFreezeAccount,
		OpCloseAccount,
		OpEditCustomer,
	}
}

// Authorize decides whether role with perms may perform op. Admin is allowed
// every known operation regardless of stored flags. Unknown roles and
// operations are denied.
func Authorize(role Role, perms PermissionSet, op Operation) bool {
	r, ok := rules[op]
	if !ok {
		return false
	}
	if role == RoleAdmin {
		return true
	}
	for _, allowed := range r.roles {
		if role == allowed {
			return true
		}
	}
	for _, c := range r.grants {
		if perms.Has(c) {
			return true
		}
	}
	return false
}

// RequiredCapability returns the primary flag that would grant op, or "" when
// only a role can.
func RequiredCapability(op Operation) Capability {
	if r, ok := rules[op]; ok && len(r.grants) > 0 {
		return r.grants[0]
	}
	return ""
}

// ErrPermissionDenied is matched by every *DeniedError.
var ErrPermissionDenied = errors.New("rbac: permission denied")

// ErrUnauthenticated indicates the request carries no usable identity.
var ErrUnauthenticated = errors.New("rbac: not authenticated")

// ErrUnknownRole rejects role names outside the fixed role set.
var ErrUnknownRole = errors.New("rbac: unknown role")

// DeniedError reports an authorization failure with the missing capability.
type DeniedError struct {
	Operation  Operation
	Capability Capability
	Role       Role
}

func (e *DeniedError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("rbac: permission denied: %s requires %s", e.Operation, e.Capability)
	}
	return fmt.Sprintf("rbac: permission denied: %s not allowed for role %q", e.Operation, e.Role)
}

// Is lets errors.Is match ErrPermissionDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}
