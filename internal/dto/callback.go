package dto

// CallbackResponse acknowledges a Dexchange notification, echoing what the aggregator sent.
type CallbackResponse struct {
	ID                    string `json:"id"`
	ExternalTransactionID string `json:"externalTransactionId"`
	TransactionType       string `json:"transactionType"`
	Status                string `json:"STATUS"`
	Duplicate             bool   `json:"duplicate,omitempty"`
}

// RedirectAckResponse is returned by the success and failure landing routes.
type RedirectAckResponse struct {
	Status                string `json:"status"`
	Message               string `json:"message"`
	ExternalTransactionID string `json:"externalTransactionId,omitempty"`
}
