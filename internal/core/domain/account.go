package domain

// Account is the versioned balance snapshot owned by the ledger.
// It is only ever mutated together with the LedgerEntry rows that explain the change.
type Account struct {
	AccountID    string `json:"accountID"`    // Primary Key (UUID)
	OwnerID      string `json:"ownerID"`      // Reference to the registered user (external identity)
	CurrencyCode string `json:"currencyCode"` // e.g. "XOF"
	Balance      int64  `json:"balance"`      // Posted balance in minor units
	Held         int64  `json:"held"`         // Sum of active debit reservations in minor units
	Version      int64  `json:"version"`      // Optimistic concurrency sequence
	IsActive     bool   `json:"isActive"`     // Deactivated accounts are kept but refuse new reservations
	IsLocked     bool   `json:"isLocked"`     // Temporary hold, e.g. a blocked NFC card
	AuditFields
}

// Available is the balance that can still be reserved for debits.
func (a Account) Available() int64 {
	return a.Balance - a.Held
}

// CanReserve reports whether new reservations may be placed on the account.
func (a Account) CanReserve() bool {
	return a.IsActive && !a.IsLocked
}
