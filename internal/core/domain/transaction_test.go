package domain_test

import (
	"testing"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []domain.TransactionStatus{
	domain.StatusCreated,
	domain.StatusReserved,
	domain.StatusPendingExternal,
	domain.StatusSettled,
	domain.StatusFailed,
	domain.StatusReversed,
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]domain.TransactionStatus]bool{
		{domain.StatusCreated, domain.StatusReserved}:         true,
		{domain.StatusCreated, domain.StatusFailed}:           true,
		{domain.StatusReserved, domain.StatusPendingExternal}: true,
		{domain.StatusReserved, domain.StatusFailed}:          true,
		{domain.StatusPendingExternal, domain.StatusSettled}:  true,
		{domain.StatusPendingExternal, domain.StatusFailed}:   true,
		{domain.StatusSettled, domain.StatusReversed}:         true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := legal[[2]domain.TransactionStatus{from, to}]
			assert.Equal(t, want, domain.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	txn := domain.Transaction{TransactionID: "txn-1", Status: domain.StatusReserved, Version: 2}

	next, event, err := txn.Transition(domain.StatusPendingExternal, "system", now)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingExternal, next.Status)
	assert.Equal(t, int64(3), next.Version)
	require.NotNil(t, next.PendingSince)
	assert.Equal(t, now, *next.PendingSince)
	assert.Equal(t, domain.StatusReserved, event.From)
	assert.Equal(t, domain.StatusPendingExternal, event.To)
	assert.Equal(t, int64(3), event.Version)
	assert.Equal(t, domain.StatusReserved, txn.Status, "the original is not modified")

	_, _, err = next.Transition(domain.StatusReserved, "system", now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestStatusPredicates(t *testing.T) {
	terminal := map[domain.TransactionStatus]bool{domain.StatusSettled: true, domain.StatusFailed: true, domain.StatusReversed: true}
	cancellable := map[domain.TransactionStatus]bool{domain.StatusCreated: true, domain.StatusReserved: true}
	for _, s := range allStatuses {
		assert.Equal(t, terminal[s], s.IsTerminal(), s)
		assert.Equal(t, cancellable[s], s.Cancellable(), s)
	}
}

func TestKindLegs(t *testing.T) {
	tests := []struct {
		kind        domain.TransactionKind
		source      bool
		destination bool
		momo        bool
	}{
		{domain.KindDeposit, false, true, false},
		{domain.KindWithdraw, true, false, false},
		{domain.KindTransfer, true, true, false},
		{domain.KindPayment, true, true, false},
		{domain.KindDepositMomo, false, true, true},
		{domain.KindWithdrawMomo, true, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.True(t, tt.kind.Valid())
			assert.Equal(t, tt.source, tt.kind.NeedsSource())
			assert.Equal(t, tt.destination, tt.kind.NeedsDestination())
			assert.Equal(t, tt.momo, tt.kind.IsMobileMoney())
		})
	}
	assert.False(t, domain.TransactionKind("REFUND").Valid())
}

func TestReconstructBalance(t *testing.T) {
	entries := []domain.LedgerEntry{
		{Kind: domain.EntryCommit, Amount: 1000},
		{Kind: domain.EntryReserve, Amount: -300},
		{Kind: domain.EntryCommit, Amount: -300},
		{Kind: domain.EntryReserve, Amount: 50},
		{Kind: domain.EntryRelease, Amount: -50},
		{Kind: domain.EntryReverse, Amount: 300},
	}
	assert.Equal(t, int64(1000), domain.ReconstructBalance(entries))
}

func TestCallbackDedupKey(t *testing.T) {
	pending := domain.CallbackEvent{Reference: "TXN-1", RawStatus: "PENDING"}
	success := domain.CallbackEvent{Reference: "TXN-1", RawStatus: "SUCCESS"}
	assert.NotEqual(t, pending.DedupKey(), success.DedupKey())
	assert.Equal(t, "TXN-1:SUCCESS", success.DedupKey())
}

func TestMomoCatalogue(t *testing.T) {
	svc, ok := domain.FindMomoService("WAVE_SN_CASHOUT")
	require.True(t, ok)
	assert.Equal(t, domain.MomoCashOut, svc.Type)
	assert.Equal(t, domain.MomoCashOut, domain.MomoServiceTypeFor(domain.KindWithdrawMomo))
	assert.Equal(t, domain.MomoCashIn, domain.MomoServiceTypeFor(domain.KindDepositMomo))

	_, ok = domain.FindMomoService("UNKNOWN")
	assert.False(t, ok)

	assert.Equal(t, "771234567", domain.NormalizePhone("+221 77 123-45-67"))
	assert.Equal(t, "771234567", domain.NormalizePhone("00221771234567"))
}

func TestAccountAvailable(t *testing.T) {
	acc := domain.Account{Balance: 1000, Held: 250, IsActive: true}
	assert.Equal(t, int64(750), acc.Available())
	assert.True(t, acc.CanReserve())
	acc.IsLocked = true
	assert.False(t, acc.CanReserve())
}
