package dexchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/shopspring/decimal"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Dexchange-Signature"

// callbackPayload is the webhook body as Dexchange sends it.
type callbackPayload struct {
	ExternalTransactionID string      `json:"externalTransactionId"`
	ID                    string      `json:"id"`
	Status                string      `json:"STATUS"`
	Error                 string      `json:"error"`
	Amount                json.Number `json:"AMOUNT"`
	Fee                   json.Number `json:"FEE"`
	PhoneNumber           string      `json:"PHONE_NUMBER"`
	CompletedAt           string      `json:"COMPLETED_AT"`
}

// Sign returns the signature Dexchange sends for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw body in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(signature)), "sha256=")
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseCallback verifies the signature before decoding anything.
func (c *Client) ParseCallback(_ context.Context, payload []byte, signature string) (*domain.CallbackEvent, error) {
	if !VerifySignature(payload, signature, c.cfg.WebhookSecret) {
		return nil, apperrors.ErrInvalidCallbackSignature
	}

	var p callbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apperrors.NewValidationError("malformed callback payload: " + err.Error())
	}
	if p.ExternalTransactionID == "" {
		return nil, apperrors.NewValidationError("callback is missing externalTransactionId")
	}
	if p.Status == "" {
		return nil, apperrors.NewValidationError("callback is missing STATUS")
	}

	event := &domain.CallbackEvent{
		EventID:     p.ID,
		Reference:   p.ExternalTransactionID,
		Status:      mapStatus(p.Status),
		RawStatus:   strings.ToUpper(p.Status),
		PhoneNumber: p.PhoneNumber,
		Error:       p.Error,
	}
	var err error
	if event.Amount, err = minorUnits(p.Amount); err != nil {
		return nil, apperrors.NewValidationError("callback AMOUNT: " + err.Error())
	}
	if event.Fee, err = minorUnits(p.Fee); err != nil {
		return nil, apperrors.NewValidationError("callback FEE: " + err.Error())
	}
	if p.CompletedAt != "" {
		if t, err := time.Parse(time.RFC3339, p.CompletedAt); err == nil {
			t = t.UTC()
			event.CompletedAt = &t
		}
	}
	return event, nil
}

// minorUnits parses an XOF amount, which has no fractional part.
func minorUnits(n json.Number) (*int64, error) {
	if n == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil, err
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("%s is not a whole amount", n)
	}
	v := d.IntPart()
	return &v, nil
}
