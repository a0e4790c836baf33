package dexchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/SscSPs/payment_settlement/internal/apperrors"
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:       srv.URL + "/",
		APIKey:        "dx-key",
		WebhookSecret: "whsec",
		CallbackURL:   "https://settle.example/callbacks/dexchange",
		MaxRetries:    2,
		HTTPClient:    srv.Client(),
	})
}

func momoRequest() domain.GatewayRequest {
	return domain.GatewayRequest{
		TransactionID: "txn-1",
		Reference:     "REF-1",
		Kind:          domain.KindWithdrawMomo,
		Amount:        5000,
		CurrencyCode:  "XOF",
		OperatorCode:  "WAVE_SN_CASHOUT",
		PhoneNumber:   "+221 77 123 45 67",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestInitiate_PendingAck(t *testing.T) {
	var got initRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/init", r.URL.Path)
		assert.Equal(t, "Bearer dx-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "Transaction initiated",
			"transaction": map[string]any{"success": true, "transactionId": "DX-99", "Status": "PENDING"},
		})
	})

	ack, err := client.Initiate(context.Background(), momoRequest())

	require.NoError(t, err)
	assert.Equal(t, "DX-99", ack.ExternalRef)
	assert.Nil(t, ack.SyncStatus)
	assert.Equal(t, "REF-1", got.ExternalTransactionID)
	assert.Equal(t, "WAVE_SN_CASHOUT", got.ServiceCode)
	assert.Equal(t, int64(5000), got.Amount)
	assert.Equal(t, "771234567", got.Number)
	assert.Equal(t, "https://settle.example/callbacks/dexchange", got.CallBackURL)
}

func TestInitiate_SynchronousSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"transaction": map[string]any{"success": true, "transactionId": "DX-1", "Status": "SUCCESS"},
		})
	})

	ack, err := client.Initiate(context.Background(), momoRequest())

	require.NoError(t, err)
	require.NotNil(t, ack.SyncStatus)
	assert.Equal(t, domain.GatewaySettled, *ack.SyncStatus)
}

func TestInitiate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload map[string]any
	}{
		{"client error", http.StatusBadRequest, map[string]any{"message": "invalid number"}},
		{"success false", http.StatusOK, map[string]any{"transaction": map[string]any{"success": false, "message": "blocked"}}},
		{"failed status", http.StatusOK, map[string]any{"transaction": map[string]any{"success": true, "Status": "FAILED"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tt.status, tt.payload)
			})

			_, err := client.Initiate(context.Background(), momoRequest())

			assert.ErrorIs(t, err, apperrors.ErrGatewayRejected)
			assert.Equal(t, int32(1), calls.Load(), "rejections are not retried")
		})
	}
}

func TestInitiate_RefusesBeforeCalling(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	book := momoRequest()
	book.Kind = domain.KindTransfer
	_, err := client.Initiate(context.Background(), book)
	assert.ErrorIs(t, err, apperrors.ErrGatewayRejected)

	unknown := momoRequest()
	unknown.OperatorCode = "NOPE"
	_, err = client.Initiate(context.Background(), unknown)
	assert.ErrorIs(t, err, apperrors.ErrGatewayRejected)

	assert.Zero(t, calls.Load())
}

func TestInitiate_ServerErrorsAreRetriedThenUnavailable(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Initiate(context.Background(), momoRequest())

	assert.ErrorIs(t, err, apperrors.ErrGatewayUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInitiate_ThrottlingIsRetriedThenUnavailable(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, status, map[string]any{"message": "slow down"})
			})

			_, err := client.Initiate(context.Background(), momoRequest())

			assert.ErrorIs(t, err, apperrors.ErrGatewayUnavailable)
			assert.NotErrorIs(t, err, apperrors.ErrGatewayRejected)
			assert.Equal(t, int32(3), calls.Load())
		})
	}
}

func TestInitiate_RecoversAfterThrottling(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": map[string]any{"success": true, "transactionId": "DX-3"}})
	})

	ack, err := client.Initiate(context.Background(), momoRequest())

	require.NoError(t, err)
	assert.Equal(t, "DX-3", ack.ExternalRef)
}

func TestInitiate_RecoversAfterServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": map[string]any{"success": true, "transactionId": "DX-2"}})
	})

	ack, err := client.Initiate(context.Background(), momoRequest())

	require.NoError(t, err)
	assert.Equal(t, "DX-2", ack.ExternalRef)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInitiate_UnreadableAnswerIsTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>proxy</html>"))
	})

	_, err := client.Initiate(context.Background(), momoRequest())

	assert.ErrorIs(t, err, apperrors.ErrGatewayTimeout)
}

func TestQueryStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   domain.GatewayStatus
	}{
		{"settled", http.StatusOK, map[string]any{"transaction": map[string]any{"Status": "SUCCESSFUL"}}, domain.GatewaySettled},
		{"failed top level", http.StatusOK, map[string]any{"STATUS": "CANCELLED"}, domain.GatewayFailed},
		{"pending", http.StatusOK, map[string]any{"STATUS": "PENDING"}, domain.GatewayUnknown},
		{"never seen", http.StatusNotFound, map[string]any{"message": "not found"}, domain.GatewayNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transaction/status/DX-7", r.URL.Path)
				writeJSON(w, tt.status, tt.body)
			})

			got, err := client.QueryStatus(context.Background(), domain.KindDepositMomo, "DX-7")

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryStatus_ClientErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	got, err := client.QueryStatus(context.Background(), domain.KindDepositMomo, "DX-7")

	assert.ErrorIs(t, err, apperrors.ErrGatewayUnavailable)
	assert.Equal(t, domain.GatewayUnknown, got)
}

func TestDo_CancelledContextIsTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	_, err := client.QueryStatus(ctx, domain.KindDepositMomo, "DX-7")

	assert.ErrorIs(t, err, apperrors.ErrGatewayTimeout)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, domain.GatewaySettled, mapStatus(" success "))
	assert.Equal(t, domain.GatewaySettled, mapStatus("COMPLETED"))
	assert.Equal(t, domain.GatewayFailed, mapStatus("expired"))
	assert.Equal(t, domain.GatewayFailed, mapStatus("REJECTED"))
	assert.Equal(t, domain.GatewayUnknown, mapStatus("PENDING"))
	assert.Equal(t, domain.GatewayUnknown, mapStatus(""))
}
