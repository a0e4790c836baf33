package repositories

import "time"

// RepositoryProvider holds all repository interfaces needed by services.
// This makes passing dependencies to the service container constructor cleaner.
type RepositoryProvider struct {
	LedgerRepo      LedgerRepositoryFacade
	TransactionRepo TransactionRepositoryFacade
	IdempotencyRepo IdempotencyRepository
}

// PageCursor is the keyset position of the last row of a page (newest first ordering).
type PageCursor struct {
	CreatedAt time.Time
	ID        string
}
