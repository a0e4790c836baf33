package domain

import (
	"encoding/json"
	"time"
)

// IdempotencyScope namespaces keys so a client key can never collide with a gateway reference.
type IdempotencyScope string

const (
	ScopeRequest  IdempotencyScope = "REQUEST"
	ScopeCallback IdempotencyScope = "CALLBACK"
	ScopeReversal IdempotencyScope = "REVERSAL"
)

// IdempotencyStatus tracks whether the first caller has finished.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
)

// IdempotencyRecord maps a key to the transaction it created and the response to replay.
// Once TransactionID is set it never changes.
type IdempotencyRecord struct {
	Scope          IdempotencyScope  `json:"scope"`
	Key            string            `json:"key"`
	RequestHash    string            `json:"requestHash"`
	TransactionID  string            `json:"transactionID,omitempty"`
	Status         IdempotencyStatus `json:"status"`
	ResponseStatus int               `json:"responseStatus,omitempty"`
	ResponseBody   json.RawMessage   `json:"responseBody,omitempty"`
	FirstSeenAt    time.Time         `json:"firstSeenAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	ExpiresAt      time.Time         `json:"expiresAt"`
}

// StoredResponse is what a duplicate caller receives instead of re-running side effects.
type StoredResponse struct {
	TransactionID string          `json:"transactionID"`
	StatusCode    int             `json:"statusCode"`
	Body          json.RawMessage `json:"body"`
}
