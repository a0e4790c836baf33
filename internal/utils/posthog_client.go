// posthog_client.go provides a wrapper around the posthog.Client to make it easier to use and handle when its not initialized.
package utils

import (
	"context"
	"log/slog"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/posthog/posthog-go"
)

// PosthogClientWrapper is a nil-safe posthog client.
type PosthogClientWrapper struct {
	posthogClient posthog.Client
	logger        *slog.Logger
}

func InitializePosthogClient(apiKey string, logger *slog.Logger) *PosthogClientWrapper {
	if apiKey == "" {
		logger.Warn("Posthog API key is empty, not initializing posthog client.")
		return &PosthogClientWrapper{logger: logger}
	}
	logger.Info("Initializing posthog client")
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: "https://eu.i.posthog.com"})
	if err != nil {
		logger.Error("Failed to initialize posthog client", slog.String("error", err.Error()))
		return &PosthogClientWrapper{logger: logger}
	}
	return &PosthogClientWrapper{posthogClient: client, logger: logger}
}

func (w *PosthogClientWrapper) IsInitialized() bool {
	return w != nil && w.posthogClient != nil
}

func (w *PosthogClientWrapper) Enqueue(distinctId string, event string, properties map[string]any) {
	if !w.IsInitialized() {
		return
	}
	if w.logger != nil {
		w.logger.Debug("Enqueueing event", slog.String("distinct_id", distinctId), slog.String("event", event))
	}
	if err := w.posthogClient.Enqueue(posthog.Capture{
		DistinctId: distinctId,
		Event:      event,
		Properties: properties,
	}); err != nil && w.logger != nil {
		w.logger.Warn("Failed to enqueue posthog event", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// TransactionFinished records a terminal settlement outcome, attributed to the transaction's creator.
func (w *PosthogClientWrapper) TransactionFinished(_ context.Context, txn domain.Transaction) {
	distinctID := txn.CreatedBy
	if distinctID == "" {
		distinctID = domain.SystemActor
	}
	props := map[string]any{
		"transaction_id": txn.TransactionID,
		"kind":           string(txn.Kind),
		"status":         string(txn.Status),
		"amount":         txn.Amount,
		"currency":       txn.CurrencyCode,
	}
	if txn.FailureReason != "" {
		props["failure_reason"] = string(txn.FailureReason)
	}
	if txn.OperatorCode != "" {
		props["operator"] = txn.OperatorCode
	}
	w.Enqueue(distinctID, "transaction_"+toEventSuffix(txn.Status), props)
}

func toEventSuffix(status domain.TransactionStatus) string {
	switch status {
	case domain.StatusSettled:
		return "settled"
	case domain.StatusFailed:
		return "failed"
	case domain.StatusReversed:
		return "reversed"
	default:
		return "updated"
	}
}

func (w *PosthogClientWrapper) Close() {
	if !w.IsInitialized() {
		return
	}
	w.posthogClient.Close()
}
