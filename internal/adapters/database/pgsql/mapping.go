package pgsql

import (
	"database/sql"
	"time"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/SscSPs/payment_settlement/internal/models"
)

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func toModelAccount(d domain.Account) models.Account {
	return models.Account{
		AccountID:    d.AccountID,
		OwnerID:      d.OwnerID,
		CurrencyCode: d.CurrencyCode,
		Balance:      d.Balance,
		Held:         d.Held,
		Version:      d.Version,
		IsActive:     d.IsActive,
		IsLocked:     d.IsLocked,
		AuditFields: models.AuditFields{
			CreatedAt:     d.CreatedAt,
			CreatedBy:     d.CreatedBy,
			LastUpdatedAt: d.LastUpdatedAt,
			LastUpdatedBy: d.LastUpdatedBy,
		},
	}
}

func toDomainAccount(m models.Account) domain.Account {
	return domain.Account{
		AccountID:    m.AccountID,
		OwnerID:      m.OwnerID,
		CurrencyCode: m.CurrencyCode,
		Balance:      m.Balance,
		Held:         m.Held,
		Version:      m.Version,
		IsActive:     m.IsActive,
		IsLocked:     m.IsLocked,
		AuditFields: domain.AuditFields{
			CreatedAt:     m.CreatedAt.UTC(),
			CreatedBy:     m.CreatedBy,
			LastUpdatedAt: m.LastUpdatedAt.UTC(),
			LastUpdatedBy: m.LastUpdatedBy,
		},
	}
}

func toModelEntry(d domain.LedgerEntry) models.LedgerEntry {
	return models.LedgerEntry{
		EntryID:        d.EntryID,
		TransactionID:  d.TransactionID,
		AccountID:      d.AccountID,
		ReservationID:  nullString(&d.ReservationID),
		Kind:           string(d.Kind),
		Amount:         d.Amount,
		BalanceAfter:   d.BalanceAfter,
		AvailableAfter: d.AvailableAfter,
		CreatedAt:      d.CreatedAt,
	}
}

func toDomainEntry(m models.LedgerEntry) domain.LedgerEntry {
	return domain.LedgerEntry{
		EntryID:        m.EntryID,
		TransactionID:  m.TransactionID,
		AccountID:      m.AccountID,
		ReservationID:  m.ReservationID.String,
		Kind:           domain.EntryKind(m.Kind),
		Amount:         m.Amount,
		BalanceAfter:   m.BalanceAfter,
		AvailableAfter: m.AvailableAfter,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func toModelReservation(d domain.Reservation) models.Reservation {
	return models.Reservation{
		ReservationID: d.ReservationID,
		TransactionID: d.TransactionID,
		AccountID:     d.AccountID,
		Amount:        d.Amount,
		Status:        string(d.Status),
		ExpiresAt:     d.ExpiresAt,
		CreatedAt:     d.CreatedAt,
		ResolvedAt:    nullTime(d.ResolvedAt),
	}
}

func toDomainReservation(m models.Reservation) domain.Reservation {
	return domain.Reservation{
		ReservationID: m.ReservationID,
		TransactionID: m.TransactionID,
		AccountID:     m.AccountID,
		Amount:        m.Amount,
		Status:        domain.ReservationStatus(m.Status),
		ExpiresAt:     m.ExpiresAt.UTC(),
		CreatedAt:     m.CreatedAt.UTC(),
		ResolvedAt:    timePtr(m.ResolvedAt),
	}
}

func toModelTransaction(d domain.Transaction) models.Transaction {
	ids := d.ReservationIDs
	if ids == nil {
		ids = []string{}
	}
	return models.Transaction{
		TransactionID:        d.TransactionID,
		Reference:            d.Reference,
		Kind:                 string(d.Kind),
		SourceAccountID:      nullString(d.SourceAccountID),
		DestinationAccountID: nullString(d.DestinationAccountID),
		Amount:               d.Amount,
		CurrencyCode:         d.CurrencyCode,
		OperatorCode:         d.OperatorCode,
		PhoneNumber:          d.PhoneNumber,
		ExternalRef:          nullString(d.ExternalRef),
		Status:               string(d.Status),
		FailureReason:        string(d.FailureReason),
		ErrorMessage:         d.ErrorMessage,
		ReservationIDs:       ids,
		CallbackReceived:     d.CallbackReceived,
		ReviewRequired:       d.ReviewRequired,
		ReconcileAttempts:    d.ReconcileAttempts,
		NextReconcileAt:      nullTime(d.NextReconcileAt),
		PendingSince:         nullTime(d.PendingSince),
		ReversalReason:       d.ReversalReason,
		Version:              d.Version,
		AuditFields: models.AuditFields{
			CreatedAt:     d.CreatedAt,
			CreatedBy:     d.CreatedBy,
			LastUpdatedAt: d.LastUpdatedAt,
			LastUpdatedBy: d.LastUpdatedBy,
		},
	}
}

func toDomainTransaction(m models.Transaction) domain.Transaction {
	var ids []string
	if len(m.ReservationIDs) > 0 {
		ids = m.ReservationIDs
	}
	return domain.Transaction{
		TransactionID:        m.TransactionID,
		Reference:            m.Reference,
		Kind:                 domain.TransactionKind(m.Kind),
		SourceAccountID:      stringPtr(m.SourceAccountID),
		DestinationAccountID: stringPtr(m.DestinationAccountID),
		Amount:               m.Amount,
		CurrencyCode:         m.CurrencyCode,
		OperatorCode:         m.OperatorCode,
		PhoneNumber:          m.PhoneNumber,
		ExternalRef:          stringPtr(m.ExternalRef),
		Status:               domain.TransactionStatus(m.Status),
		FailureReason:        domain.FailureReason(m.FailureReason),
		ErrorMessage:         m.ErrorMessage,
		ReservationIDs:       ids,
		CallbackReceived:     m.CallbackReceived,
		ReviewRequired:       m.ReviewRequired,
		ReconcileAttempts:    m.ReconcileAttempts,
		NextReconcileAt:      timePtr(m.NextReconcileAt),
		PendingSince:         timePtr(m.PendingSince),
		ReversalReason:       m.ReversalReason,
		Version:              m.Version,
		AuditFields: domain.AuditFields{
			CreatedAt:     m.CreatedAt.UTC(),
			CreatedBy:     m.CreatedBy,
			LastUpdatedAt: m.LastUpdatedAt.UTC(),
			LastUpdatedBy: m.LastUpdatedBy,
		},
	}
}

func toDomainEvent(m models.TransitionEvent) domain.TransitionEvent {
	return domain.TransitionEvent{
		TransactionID: m.TransactionID,
		From:          domain.TransactionStatus(m.FromStatus),
		To:            domain.TransactionStatus(m.ToStatus),
		Actor:         m.Actor,
		Reason:        m.Reason,
		Version:       m.Version,
		OccurredAt:    m.OccurredAt.UTC(),
	}
}

func toDomainIdempotency(m models.IdempotencyKey) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Scope:          domain.IdempotencyScope(m.Scope),
		Key:            m.IdempotencyKey,
		RequestHash:    m.RequestHash,
		TransactionID:  m.TransactionID,
		Status:         domain.IdempotencyStatus(m.Status),
		ResponseStatus: m.ResponseStatus,
		ResponseBody:   m.ResponseBody,
		FirstSeenAt:    m.FirstSeenAt.UTC(),
		CompletedAt:    timePtr(m.CompletedAt),
		ExpiresAt:      m.ExpiresAt.UTC(),
	}
}
