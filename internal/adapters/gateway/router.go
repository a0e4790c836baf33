// Package gateway routes each transaction kind to the processor that settles it.
package gateway

import (
	"context"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
)

// Router sends mobile-money kinds to the aggregator and the rest to the in-house book.
type Router struct {
	momo portssvc.GatewayAdapter
	book portssvc.GatewayAdapter
}

// NewRouter creates a kind-based router. Callbacks are only accepted from momo.
func NewRouter(momo, book portssvc.GatewayAdapter) *Router {
	return &Router{momo: momo, book: book}
}

var _ portssvc.GatewayAdapter = (*Router)(nil)

func (r *Router) route(kind domain.TransactionKind) portssvc.GatewayAdapter {
	if kind.IsMobileMoney() {
		return r.momo
	}
	return r.book
}

func (r *Router) Initiate(ctx context.Context, req domain.GatewayRequest) (*domain.GatewayAck, error) {
	return r.route(req.Kind).Initiate(ctx, req)
}

func (r *Router) QueryStatus(ctx context.Context, kind domain.TransactionKind, externalRef string) (domain.GatewayStatus, error) {
	return r.route(kind).QueryStatus(ctx, kind, externalRef)
}

func (r *Router) ParseCallback(ctx context.Context, payload []byte, signature string) (*domain.CallbackEvent, error) {
	return r.momo.ParseCallback(ctx, payload, signature)
}
