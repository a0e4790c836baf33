// Package book settles cash, NFC and wallet-to-wallet kinds inside the ledger itself.
// There is no external party, so every initiation settles synchronously.
package book

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/platform/metrics"
)

const (
	gatewayName = "book"
	refPrefix   = "BOOK-"
)

// Processor implements the gateway port for in-house kinds.
type Processor struct {
	mu      sync.RWMutex
	settled map[string]struct{} // references initiated by this process
}

// NewProcessor creates an in-house processor.
func NewProcessor() *Processor {
	return &Processor{settled: make(map[string]struct{})}
}

var _ portssvc.GatewayAdapter = (*Processor)(nil)

// ExternalRef is the reference the processor assigns to a transaction.
func ExternalRef(reference string) string {
	return refPrefix + reference
}

func (p *Processor) Initiate(ctx context.Context, req domain.GatewayRequest) (*domain.GatewayAck, error) {
	if req.Kind.IsMobileMoney() {
		metrics.GatewayCallsTotal.WithLabelValues(gatewayName, "initiate", "rejected").Inc()
		return nil, fmt.Errorf("%w: %s needs a mobile-money gateway", apperrors.ErrGatewayRejected, req.Kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrGatewayUnavailable, err)
	}
	ref := ExternalRef(req.Reference)
	p.mu.Lock()
	p.settled[req.Reference] = struct{}{}
	p.mu.Unlock()

	metrics.GatewayCallsTotal.WithLabelValues(gatewayName, "initiate", "ok").Inc()
	status := domain.GatewaySettled
	return &domain.GatewayAck{ExternalRef: ref, SyncStatus: &status, Message: "settled in book"}, nil
}

// QueryStatus answers Settled for every ref the book handed out, since the book settles on initiation.
// A bare reference is only known to the process that initiated it; otherwise it reads as NotFound.
func (p *Processor) QueryStatus(_ context.Context, _ domain.TransactionKind, externalRef string) (domain.GatewayStatus, error) {
	p.mu.RLock()
	_, ok := p.settled[externalRef]
	p.mu.RUnlock()
	ok = ok || strings.HasPrefix(externalRef, refPrefix)
	metrics.GatewayCallsTotal.WithLabelValues(gatewayName, "query_status", "ok").Inc()
	if ok {
		return domain.GatewaySettled, nil
	}
	return domain.GatewayNotFound, nil
}

// ParseCallback always fails: the book never calls back.
func (p *Processor) ParseCallback(context.Context, []byte, string) (*domain.CallbackEvent, error) {
	return nil, apperrors.ErrInvalidCallbackSignature
}
