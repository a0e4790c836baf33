package models

import (
	"database/sql"
	"time"
)

// IdempotencyKey is the idempotency_keys row.
type IdempotencyKey struct {
	Scope          string       `db:"scope"`
	IdempotencyKey string       `db:"idempotency_key"`
	RequestHash    string       `db:"request_hash"`
	TransactionID  string       `db:"transaction_id"`
	Status         string       `db:"status"`
	ResponseStatus int          `db:"response_status"`
	ResponseBody   []byte       `db:"response_body"`
	FirstSeenAt    time.Time    `db:"first_seen_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
	ExpiresAt      time.Time    `db:"expires_at"`
}
