package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/SscSPs/payment_settlement/internal/adapters/database/memory"
	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, s *memory.Store, id string) domain.Account {
	t.Helper()
	acc := domain.Account{AccountID: id, CurrencyCode: "XOF", Version: 1, IsActive: true}
	require.NoError(t, s.SaveAccount(context.Background(), acc))
	return acc
}

func TestApplyLedgerChange_IsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	a := seedAccount(t, s, "a")
	b := seedAccount(t, s, "b")

	nextA, nextB := a, b
	nextA.Balance, nextA.Version = 100, 2
	nextB.Balance, nextB.Version = 50, 2
	err := s.ApplyLedgerChange(ctx, domain.LedgerChange{
		Accounts: []domain.AccountUpdate{
			{Account: nextA, ExpectedVersion: 1},
			{Account: nextB, ExpectedVersion: 7}, // stale
		},
		Entries: []domain.LedgerEntry{{EntryID: "e1", AccountID: "a", Kind: domain.EntryCommit, Amount: 100, CreatedAt: t0}},
	})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	got, err := s.FindAccountByID(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, got.Balance)
	entries, err := s.ListEntriesByAccount(ctx, "a", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApplyLedgerChange_RejectsDuplicateEntry(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	a := seedAccount(t, s, "a")
	entry := domain.LedgerEntry{EntryID: "e1", AccountID: "a", Kind: domain.EntryCommit, Amount: 10, CreatedAt: t0}

	next := a
	next.Version = 2
	require.NoError(t, s.ApplyLedgerChange(ctx, domain.LedgerChange{
		Accounts: []domain.AccountUpdate{{Account: next, ExpectedVersion: 1}},
		Entries:  []domain.LedgerEntry{entry},
	}))
	next.Version = 3
	err := s.ApplyLedgerChange(ctx, domain.LedgerChange{
		Accounts: []domain.AccountUpdate{{Account: next, ExpectedVersion: 2}},
		Entries:  []domain.LedgerEntry{entry},
	})
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestTransactions_VersionCheckAndReferenceLookup(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	txn := domain.Transaction{TransactionID: "t1", Reference: "REF-1", Status: domain.StatusCreated, Version: 1}
	require.NoError(t, s.SaveTransaction(ctx, txn, domain.TransitionEvent{TransactionID: "t1", To: domain.StatusCreated, Version: 1}))

	dup := txn
	dup.TransactionID = "t2"
	assert.ErrorIs(t, s.SaveTransaction(ctx, dup, domain.TransitionEvent{}), apperrors.ErrDuplicate)

	next, event, err := txn.Transition(domain.StatusReserved, "tester", t0)
	require.NoError(t, err)
	require.NoError(t, s.UpdateTransaction(ctx, next, 1, &event))
	assert.ErrorIs(t, s.UpdateTransaction(ctx, next, 1, &event), apperrors.ErrConflict)

	found, err := s.FindTransactionByReference(ctx, "REF-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReserved, found.Status)

	events, err := s.ListTransitions(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = s.FindTransactionByID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransactions_ReturnedCopiesAreDetached(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	ref := "DX-1"
	txn := domain.Transaction{TransactionID: "t1", Reference: "REF-1", ExternalRef: &ref, ReservationIDs: []string{"r1"}, Version: 1}
	require.NoError(t, s.SaveTransaction(ctx, txn, domain.TransitionEvent{}))

	found, err := s.FindTransactionByID(ctx, "t1")
	require.NoError(t, err)
	*found.ExternalRef = "changed"
	found.ReservationIDs[0] = "changed"

	again, err := s.FindTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "DX-1", *again.ExternalRef)
	assert.Equal(t, "r1", again.ReservationIDs[0])
}

func TestListPendingExternal_HonoursTimeoutAndSchedule(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	old, recent, later := t0.Add(-10*time.Minute), t0.Add(-time.Minute), t0.Add(time.Hour)
	for _, txn := range []domain.Transaction{
		{TransactionID: "old", Reference: "R1", Status: domain.StatusPendingExternal, PendingSince: &old},
		{TransactionID: "recent", Reference: "R2", Status: domain.StatusPendingExternal, PendingSince: &recent},
		{TransactionID: "scheduled", Reference: "R3", Status: domain.StatusPendingExternal, PendingSince: &old, NextReconcileAt: &later},
		{TransactionID: "settled", Reference: "R4", Status: domain.StatusSettled, PendingSince: &old},
	} {
		require.NoError(t, s.SaveTransaction(ctx, txn, domain.TransitionEvent{}))
	}

	due, err := s.ListPendingExternal(ctx, t0.Add(-2*time.Minute), t0, 10)

	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "old", due[0].TransactionID)
}

func TestIdempotencyRecords(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	rec := domain.IdempotencyRecord{
		Scope: domain.ScopeRequest, Key: "k", RequestHash: "h",
		Status: domain.IdempotencyInProgress, FirstSeenAt: t0, ExpiresAt: t0.Add(time.Hour),
	}
	require.NoError(t, s.CreateIdempotencyRecord(ctx, rec))
	assert.ErrorIs(t, s.CreateIdempotencyRecord(ctx, rec), apperrors.ErrDuplicate)

	require.NoError(t, s.CompleteIdempotencyRecord(ctx, domain.ScopeRequest, "k",
		domain.StoredResponse{TransactionID: "t1", StatusCode: 201, Body: []byte(`{}`)}, t0))
	got, err := s.FindIdempotencyRecord(ctx, domain.ScopeRequest, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyCompleted, got.Status)
	assert.Equal(t, "t1", got.TransactionID)

	// Completed records survive an abandon
	require.NoError(t, s.DeleteInProgressRecord(ctx, domain.ScopeRequest, "k"))
	_, err = s.FindIdempotencyRecord(ctx, domain.ScopeRequest, "k")
	require.NoError(t, err)

	n, err := s.PurgeIdempotencyRecords(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
