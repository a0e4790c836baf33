package services

import (
	"context"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
)

// GatewayAdapter is the external payment processor.
type GatewayAdapter interface {
	// Initiate starts the external operation. Errors wrap apperrors.ErrGatewayTimeout,
	// ErrGatewayRejected or ErrGatewayUnavailable.
	Initiate(ctx context.Context, req domain.GatewayRequest) (*domain.GatewayAck, error)

	// QueryStatus returns the processor's authoritative status for a reference.
	QueryStatus(ctx context.Context, kind domain.TransactionKind, externalRef string) (domain.GatewayStatus, error)

	// ParseCallback verifies the signature before decoding the payload.
	ParseCallback(ctx context.Context, payload []byte, signature string) (*domain.CallbackEvent, error)
}

// OTPVerifier is the identity provider used to authorize account-holder actions.
type OTPVerifier interface {
	SendOTP(ctx context.Context, phone string) (string, error)
	CheckOTP(ctx context.Context, phone, code string) (bool, error)
}

// SettlementNotifier publishes settlement outcomes to analytics.
type SettlementNotifier interface {
	TransactionFinished(ctx context.Context, txn domain.Transaction)
}
