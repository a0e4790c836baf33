// Package twilio verifies account holders with one-time codes sent by Twilio Verify.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	portssvc "github.com/SscSPs/payment_settlement/internal/core/ports/services"
	"github.com/SscSPs/payment_settlement/internal/middleware"
	"github.com/SscSPs/payment_settlement/internal/platform/metrics"
	twilioapi "github.com/twilio/twilio-go"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
)

const (
	statusApproved = "approved"
	defaultCountry = "+221"
)

// verifyAPI is the subset of the Verify v2 service used here.
type verifyAPI interface {
	CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error)
	CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error)
}

// Verifier implements the OTP port with Twilio Verify.
type Verifier struct {
	api        verifyAPI
	serviceSID string
	channel    string
}

// NewVerifier creates a verifier that sends codes by SMS.
func NewVerifier(accountSID, authToken, serviceSID string) *Verifier {
	client := twilioapi.NewRestClientWithParams(twilioapi.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newVerifier(client.VerifyV2, serviceSID)
}

func newVerifier(api verifyAPI, serviceSID string) *Verifier {
	return &Verifier{api: api, serviceSID: serviceSID, channel: "sms"}
}

var _ portssvc.OTPVerifier = (*Verifier)(nil)

// SendOTP starts a verification and returns its SID as the delivery ID.
func (v *Verifier) SendOTP(ctx context.Context, phone string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	to := E164(phone)
	params := &verify.CreateVerificationParams{}
	params.SetTo(to)
	params.SetChannel(v.channel)

	resp, err := v.api.CreateVerification(v.serviceSID, params)
	if err != nil {
		metrics.GatewayCallsTotal.WithLabelValues("twilio", "send_otp", "error").Inc()
		middleware.GetLoggerFromCtx(ctx).Error("Failed to send OTP", slog.String("error", err.Error()))
		return "", fmt.Errorf("sending otp: %w", err)
	}
	metrics.GatewayCallsTotal.WithLabelValues("twilio", "send_otp", "ok").Inc()
	if resp == nil || resp.Sid == nil {
		return "", errors.New("sending otp: empty verification response")
	}
	return *resp.Sid, nil
}

// CheckOTP reports whether code is the one most recently sent to phone.
func (v *Verifier) CheckOTP(ctx context.Context, phone, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(E164(phone))
	params.SetCode(code)

	resp, err := v.api.CreateVerificationCheck(v.serviceSID, params)
	if err != nil {
		metrics.GatewayCallsTotal.WithLabelValues("twilio", "check_otp", "error").Inc()
		return false, fmt.Errorf("checking otp: %w", err)
	}
	metrics.GatewayCallsTotal.WithLabelValues("twilio", "check_otp", "ok").Inc()
	return resp != nil && resp.Status != nil && *resp.Status == statusApproved, nil
}

// E164 formats a Senegalese local number for Twilio.
func E164(phone string) string {
	phone = strings.NewReplacer(" ", "", "-", "", ".", "").Replace(strings.TrimSpace(phone))
	switch {
	case strings.HasPrefix(phone, "+"):
		return phone
	case strings.HasPrefix(phone, "00"):
		return "+" + phone[2:]
	default:
		return defaultCountry + phone
	}
}
