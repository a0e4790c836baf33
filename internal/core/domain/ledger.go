package domain

import "time"

// EntryKind is the kind of a ledger entry.
type EntryKind string

const (
	EntryReserve EntryKind = "RESERVE"
	EntryCommit  EntryKind = "COMMIT"
	EntryRelease EntryKind = "RELEASE"
	EntryReverse EntryKind = "REVERSE"
)

// Posts reports whether entries of this kind move the posted balance.
// Reserve and Release only move the held amount.
func (k EntryKind) Posts() bool {
	return k == EntryCommit || k == EntryReverse
}

// LedgerEntry is an immutable, append-only record of a balance-affecting event.
type LedgerEntry struct {
	EntryID        string    `json:"entryID"`
	TransactionID  string    `json:"transactionID"`
	AccountID      string    `json:"accountID"`
	ReservationID  string    `json:"reservationID,omitempty"`
	Kind           EntryKind `json:"kind"`
	Amount         int64     `json:"amount"`         // Signed minor units
	BalanceAfter   int64     `json:"balanceAfter"`   // Posted balance after this entry
	AvailableAfter int64     `json:"availableAfter"` // Available balance after this entry
	CreatedAt      time.Time `json:"createdAt"`
}

// ReconstructBalance sums the posting entries of one account.
// For any consistent ledger this equals Account.Balance.
func ReconstructBalance(entries []LedgerEntry) int64 {
	var total int64
	for _, e := range entries {
		if e.Kind.Posts() {
			total += e.Amount
		}
	}
	return total
}

// ReservationStatus tracks whether a hold is still open.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationReversed  ReservationStatus = "REVERSED"
)

// Reservation is a provisional hold on one account for one transaction leg.
// A negative Amount is a debit hold (reduces available funds immediately);
// a positive Amount is a pending credit (not spendable until committed).
type Reservation struct {
	ReservationID string            `json:"reservationID"` // Opaque token handed back to the caller
	TransactionID string            `json:"transactionID"`
	AccountID     string            `json:"accountID"`
	Amount        int64             `json:"amount"`
	Status        ReservationStatus `json:"status"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	CreatedAt     time.Time         `json:"createdAt"`
	ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
}

// IsDebit reports whether the reservation holds funds.
func (r Reservation) IsDebit() bool {
	return r.Amount < 0
}

// AccountUpdate is a new account snapshot guarded by the version it was derived from.
type AccountUpdate struct {
	Account         Account
	ExpectedVersion int64
}

// LedgerChange is applied atomically by the ledger repository: every account
// version must still match, otherwise nothing is written.
type LedgerChange struct {
	Accounts     []AccountUpdate
	Entries      []LedgerEntry
	Reservations []Reservation
}
