package models

// Account is the accounts row.
type Account struct {
	AccountID    string `db:"account_id"`
	OwnerID      string `db:"owner_id"`
	CurrencyCode string `db:"currency_code"`
	Balance      int64  `db:"balance"`
	Held         int64  `db:"held"`
	Version      int64  `db:"version"`
	IsActive     bool   `db:"is_active"`
	IsLocked     bool   `db:"is_locked"`
	AuditFields
}
