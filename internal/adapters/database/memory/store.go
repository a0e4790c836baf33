// Package memory implements the repository ports in process memory.
// It backs the test suites and STORAGE_DRIVER=memory local runs.
package memory

import (
	"sync"
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portsrepo "github.com/SscSPs/payment_settlement/internal/core/ports/repositories"
)

// Store holds every table behind one lock so a ledger change is atomic.
type Store struct {
	mu sync.RWMutex

	accounts     map[string]domain.Account
	entries      map[string][]domain.LedgerEntry // by account, append order
	entryIDs     map[string]struct{}
	reservations map[string]domain.Reservation

	transactions map[string]domain.Transaction
	references   map[string]string // reference -> transaction ID
	events       map[string][]domain.TransitionEvent

	idempotency map[string]domain.IdempotencyRecord // scope|key
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]domain.Account),
		entries:      make(map[string][]domain.LedgerEntry),
		entryIDs:     make(map[string]struct{}),
		reservations: make(map[string]domain.Reservation),
		transactions: make(map[string]domain.Transaction),
		references:   make(map[string]string),
		events:       make(map[string][]domain.TransitionEvent),
		idempotency:  make(map[string]domain.IdempotencyRecord),
	}
}

// NewRepositoryProvider wires a single Store into every repository port.
func NewRepositoryProvider(store *Store) portsrepo.RepositoryProvider {
	return portsrepo.RepositoryProvider{
		LedgerRepo:      store,
		TransactionRepo: store,
		IdempotencyRepo: store,
	}
}

var (
	_ portsrepo.LedgerRepositoryFacade      = (*Store)(nil)
	_ portsrepo.TransactionRepositoryFacade = (*Store)(nil)
	_ portsrepo.IdempotencyRepository       = (*Store)(nil)
)

// before reports whether (createdAt, id) sorts after the cursor in newest-first order.
func before(c *portsrepo.PageCursor, createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.Before(c.CreatedAt)
	}
	return id < c.ID
}
