package domain

import "strings"

// MomoServiceType is the direction of a mobile-money service.
type MomoServiceType string

const (
	MomoCashIn  MomoServiceType = "CASHIN"
	MomoCashOut MomoServiceType = "CASHOUT"
)

// MomoService is a mobile-money operator service reachable through Dexchange.
type MomoService struct {
	Name    string
	Code    string
	Country string
	Type    MomoServiceType
}

// MomoServices is the operator catalogue supported by the aggregator.
var MomoServices = []MomoService{
	{Name: "Orange Money Cashin SN", Code: "OM_SN_CASHIN", Country: "SN", Type: MomoCashIn},
	{Name: "Orange Money Cashout SN", Code: "OM_SN_CASHOUT", Country: "SN", Type: MomoCashOut},
	{Name: "Wave Cashout SN", Code: "WAVE_SN_CASHOUT", Country: "SN", Type: MomoCashOut},
	{Name: "Wave Cashin SN", Code: "WAVE_SN_CASHIN", Country: "SN", Type: MomoCashIn},
	{Name: "Free Money Cashin SN", Code: "FM_SN_CASHIN", Country: "SN", Type: MomoCashIn},
	{Name: "Free Money Cashout SN", Code: "FM_SN_CASHOUT", Country: "SN", Type: MomoCashOut},
	{Name: "Wizall Money Cashout SN", Code: "WIZALL_SN_CASHOUT", Country: "SN", Type: MomoCashOut},
	{Name: "Wizall Money Cashin SN", Code: "WIZALL_SN_CASHIN", Country: "SN", Type: MomoCashIn},
}

// FindMomoService looks up an operator service by code.
func FindMomoService(code string) (MomoService, bool) {
	for _, svc := range MomoServices {
		if svc.Code == code {
			return svc, true
		}
	}
	return MomoService{}, false
}

// MomoServiceTypeFor returns the service direction a momo kind requires.
func MomoServiceTypeFor(kind TransactionKind) MomoServiceType {
	if kind == KindWithdrawMomo {
		return MomoCashOut
	}
	return MomoCashIn
}

// senegalDialPrefix is stripped because the aggregator expects national numbers.
const senegalDialPrefix = "+221"

// NormalizePhone removes separators and the Senegal country prefix.
func NormalizePhone(phone string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	cleaned = strings.TrimPrefix(cleaned, senegalDialPrefix)
	return strings.TrimPrefix(cleaned, "00221")
}
