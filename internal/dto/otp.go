package dto

// SendOTPRequest asks the identity provider to text a code.
type SendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required,min=7,max=16"`
}

// SendOTPResponse carries the provider's delivery identifier.
type SendOTPResponse struct {
	DeliveryID string `json:"deliveryID"`
}

// VerifyOTPRequest checks a code received by SMS.
type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required,min=7,max=16"`
	Code        string `json:"code" binding:"required,numeric,min=4,max=10"`
}

// VerifyOTPResponse reports whether the code was accepted.
type VerifyOTPResponse struct {
	Valid bool `json:"valid"`
}
