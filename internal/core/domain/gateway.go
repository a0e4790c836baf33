package domain

import "time"

// GatewayStatus is the processor's authoritative view of an operation.
type GatewayStatus string

const (
	GatewaySettled GatewayStatus = "SETTLED"
	GatewayFailed  GatewayStatus = "FAILED"
	GatewayUnknown GatewayStatus = "UNKNOWN"
	// GatewayNotFound means the processor has no record of the reference.
	GatewayNotFound GatewayStatus = "NOT_FOUND"
)

// GatewayRequest is the intent sent to the external processor.
type GatewayRequest struct {
	TransactionID string
	Reference     string
	Kind          TransactionKind
	Amount        int64
	CurrencyCode  string
	OperatorCode  string
	PhoneNumber   string
	Metadata      map[string]string
}

// GatewayAck is the synchronous answer to an initiation.
// SyncStatus is nil for fully asynchronous flows.
type GatewayAck struct {
	ExternalRef string
	SyncStatus  *GatewayStatus
	Message     string
}

// CallbackEvent is a verified, parsed webhook notification.
type CallbackEvent struct {
	EventID     string        // Processor-side identifier of the operation
	Reference   string        // Our transaction reference (externalTransactionId)
	Status      GatewayStatus // Settled, Failed or Unknown (still pending)
	RawStatus   string
	Amount      *int64
	Fee         *int64
	PhoneNumber string
	Error       string
	CompletedAt *time.Time
}

// DedupKey identifies the notification in the idempotency registry.
// The same operation can legitimately notify PENDING then SUCCESS, so the status is part of the key.
func (e CallbackEvent) DedupKey() string {
	return e.Reference + ":" + e.RawStatus
}
