package domain

import "strings"

// Role is the privilege level carried by the caller's token.
type Role string

const (
	// RoleCustomer may only move money out of accounts it owns.
	RoleCustomer Role = "CUSTOMER"
	// RoleManager operates the cash desk: deposits, withdrawals, payments and reversals on any account.
	RoleManager Role = "MANAGER"
)

// ParseRole maps a token claim to a Role. Anything unrecognised is a customer.
func ParseRole(claim string) Role {
	if Role(strings.ToUpper(strings.TrimSpace(claim))) == RoleManager {
		return RoleManager
	}
	return RoleCustomer
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID string
	Role   Role
}

// IsManager reports whether the caller holds the manager role.
func (p Principal) IsManager() bool {
	return p.Role == RoleManager
}

// Owns reports whether the account belongs to the caller.
func (p Principal) Owns(acc Account) bool {
	return p.UserID != "" && acc.OwnerID == p.UserID
}

// CanAccess reports whether the caller may read or operate the account.
func (p Principal) CanAccess(acc Account) bool {
	return p.IsManager() || p.Owns(acc)
}

// ManagerOnly reports whether only a manager may submit the kind.
// Cash and card movements happen at a desk, never on the customer's own authority.
func (k TransactionKind) ManagerOnly() bool {
	switch k {
	case KindDeposit, KindWithdraw, KindPayment:
		return true
	}
	return false
}
