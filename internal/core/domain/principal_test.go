package domain_test

import (
	"testing"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	assert.Equal(t, domain.RoleManager, domain.ParseRole("MANAGER"))
	assert.Equal(t, domain.RoleManager, domain.ParseRole(" manager "))
	assert.Equal(t, domain.RoleCustomer, domain.ParseRole("CUSTOMER"))
	assert.Equal(t, domain.RoleCustomer, domain.ParseRole(""))
	assert.Equal(t, domain.RoleCustomer, domain.ParseRole("ADMIN"))
}

func TestPrincipalAccess(t *testing.T) {
	acc := domain.Account{AccountID: "acc-1", OwnerID: "owner-1"}
	owner := domain.Principal{UserID: "owner-1", Role: domain.RoleCustomer}
	stranger := domain.Principal{UserID: "mallory", Role: domain.RoleCustomer}
	manager := domain.Principal{UserID: "desk-1", Role: domain.RoleManager}

	assert.True(t, owner.CanAccess(acc))
	assert.False(t, stranger.CanAccess(acc))
	assert.True(t, manager.CanAccess(acc))
	assert.False(t, manager.Owns(acc))

	// An unowned account belongs to nobody, not to an anonymous caller
	assert.False(t, domain.Principal{}.Owns(domain.Account{AccountID: "acc-2"}))
}

func TestManagerOnlyKinds(t *testing.T) {
	for kind, want := range map[domain.TransactionKind]bool{
		domain.KindDeposit:      true,
		domain.KindWithdraw:     true,
		domain.KindPayment:      true,
		domain.KindTransfer:     false,
		domain.KindDepositMomo:  false,
		domain.KindWithdrawMomo: false,
	} {
		assert.Equal(t, want, kind.ManagerOnly(), kind)
	}
}
