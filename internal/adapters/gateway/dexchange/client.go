// Package dexchange talks to the Dexchange mobile-money aggregator.
package dexchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/SscSPs/payment_settlement/internal/platform/metrics"
	"github.com/SscSPs/payment_settlement/internal/utils"
	"golang.org/x/oauth2"
)

const (
	gatewayName    = "dexchange"
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config holds the aggregator credentials and the URLs it calls back.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	CallbackURL   string
	SuccessURL    string
	FailureURL    string
	MaxRetries    int

	// HTTPClient is the base transport, wrapped with bearer auth. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements the gateway port for mobile-money kinds.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a Dexchange client. Every request carries the API key as a bearer token.
func NewClient(cfg Config) *Client {
	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	return &Client{cfg: cfg, http: oauth2.NewClient(ctx, src)}
}

var _ portssvc.GatewayAdapter = (*Client)(nil)

type initRequest struct {
	ExternalTransactionID string `json:"externalTransactionId"`
	ServiceCode           string `json:"serviceCode"`
	Amount                int64  `json:"amount"`
	Number                string `json:"number"`
	CallBackURL           string `json:"callBackURL,omitempty"`
	SuccessURL            string `json:"successUrl,omitempty"`
	FailureURL            string `json:"failureUrl,omitempty"`
}

type initResponse struct {
	Message     string `json:"message"`
	Transaction struct {
		Success       bool   `json:"success"`
		TransactionID string `json:"transactionId"`
		Status        string `json:"Status"`
		Message       string `json:"message"`
	} `json:"transaction"`
}

type statusResponse struct {
	Status      string `json:"STATUS"`
	Transaction struct {
		Status string `json:"Status"`
	} `json:"transaction"`
}

// Initiate posts /transaction/init. Transport failures are retried; a rejection is not.
func (c *Client) Initiate(ctx context.Context, req domain.GatewayRequest) (*domain.GatewayAck, error) {
	if !req.Kind.IsMobileMoney() {
		return nil, fmt.Errorf("%w: %s is not a mobile-money kind", apperrors.ErrGatewayRejected, req.Kind)
	}
	if _, ok := domain.FindMomoService(req.OperatorCode); !ok {
		return nil, fmt.Errorf("%w: unknown service code %q", apperrors.ErrGatewayRejected, req.OperatorCode)
	}
	payload := initRequest{
		ExternalTransactionID: req.Reference,
		ServiceCode:           req.OperatorCode,
		Amount:                req.Amount,
		Number:                domain.NormalizePhone(req.PhoneNumber),
		CallBackURL:           c.cfg.CallbackURL,
		SuccessURL:            c.cfg.SuccessURL,
		FailureURL:            c.cfg.FailureURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding dexchange request: %w", err)
	}

	logger := middleware.GetLoggerFromCtx(ctx).With(slog.String("gateway", gatewayName), slog.String("reference", req.Reference))
	logger.Info("Initiating mobile-money transaction", slog.String("service_code", req.OperatorCode), slog.Int64("amount", req.Amount))

	status, respBody, err := c.do(ctx, http.MethodPost, "/transaction/init", body)
	if err != nil {
		c.record("initiate", err)
		return nil, err
	}
	if status >= 400 {
		err := fmt.Errorf("%w: dexchange answered %d: %s", apperrors.ErrGatewayRejected, status, truncate(respBody))
		c.record("initiate", err)
		return nil, err
	}

	var resp initResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		// The call went through but the answer is unreadable; the outcome is unknown
		c.record("initiate", apperrors.ErrGatewayTimeout)
		return nil, fmt.Errorf("%w: unreadable dexchange response: %v", apperrors.ErrGatewayTimeout, err)
	}
	if !resp.Transaction.Success {
		msg := firstNonEmpty(resp.Transaction.Message, resp.Message, "unknown error")
		err := fmt.Errorf("%w: %s", apperrors.ErrGatewayRejected, msg)
		c.record("initiate", err)
		return nil, err
	}

	ack := &domain.GatewayAck{ExternalRef: resp.Transaction.TransactionID, Message: resp.Message}
	switch status := mapStatus(resp.Transaction.Status); status {
	case domain.GatewaySettled:
		ack.SyncStatus = &status
	case domain.GatewayUnknown:
		// Pending: the callback or reconciliation settles it
	default:
		err := fmt.Errorf("%w: initiation status %s", apperrors.ErrGatewayRejected, resp.Transaction.Status)
		c.record("initiate", err)
		return nil, err
	}
	c.record("initiate", nil)
	logger.Info("Mobile-money transaction accepted", slog.String("external_ref", ack.ExternalRef), slog.String("status", resp.Transaction.Status))
	return ack, nil
}

// QueryStatus reads /transaction/status/{ref}. A 404 means the aggregator never saw it.
func (c *Client) QueryStatus(ctx context.Context, _ domain.TransactionKind, externalRef string) (domain.GatewayStatus, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/transaction/status/"+url.PathEscape(externalRef), nil)
	if err != nil {
		c.record("query_status", err)
		return domain.GatewayUnknown, err
	}
	if status == http.StatusNotFound {
		c.record("query_status", nil)
		return domain.GatewayNotFound, nil
	}
	if status >= 400 {
		err := fmt.Errorf("%w: status query answered %d", apperrors.ErrGatewayUnavailable, status)
		c.record("query_status", err)
		return domain.GatewayUnknown, err
	}
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.record("query_status", err)
		return domain.GatewayUnknown, fmt.Errorf("decoding dexchange status: %w", err)
	}
	c.record("query_status", nil)
	return mapStatus(firstNonEmpty(resp.Transaction.Status, resp.Status)), nil
}

// do sends one request, retrying transport errors, 5xx answers and throttling (408, 429).
// It returns the final status code and body, or an error wrapping
// ErrGatewayTimeout or ErrGatewayUnavailable.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	logger := middleware.GetLoggerFromCtx(ctx)
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := utils.Jitter(utils.ExponentialBackoff(attempt, retryBaseDelay, retryMaxDelay))
			select {
			case <-ctx.Done():
				return 0, nil, classify(ctx.Err())
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return 0, nil, fmt.Errorf("building dexchange request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return 0, nil, classify(ctx.Err())
			}
			logger.Warn("Dexchange request failed", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
			continue
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if retryable(resp.StatusCode) {
			lastErr = fmt.Errorf("dexchange answered %d", resp.StatusCode)
			logger.Warn("Dexchange asked for a retry", slog.Int("attempt", attempt+1), slog.Int("status", resp.StatusCode))
			continue
		}
		return resp.StatusCode, respBody, nil
	}
	return 0, nil, classify(lastErr)
}

// retryable reports answers that say nothing about the request itself.
func retryable(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperrors.ErrGatewayTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", apperrors.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrGatewayUnavailable, err)
}

func (c *Client) record(operation string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrGatewayRejected):
		result = "rejected"
	case errors.Is(err, apperrors.ErrGatewayTimeout):
		result = "timeout"
	default:
		result = "error"
	}
	metrics.GatewayCallsTotal.WithLabelValues(gatewayName, operation, result).Inc()
}

// mapStatus normalizes the aggregator's status vocabulary.
func mapStatus(raw string) domain.GatewayStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "COMPLETED", "SUCCESSFUL":
		return domain.GatewaySettled
	case "FAILED", "FAILURE", "CANCELLED", "CANCELED", "REJECTED", "EXPIRED":
		return domain.GatewayFailed
	default:
		return domain.GatewayUnknown
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
