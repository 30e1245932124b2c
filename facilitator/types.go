package facilitator

import "encoding/json"

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	X402Version         int             `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements interface{}     `json:"paymentRequirements"`
}

// VerifyResponse is the response from /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest is the body of POST /settle. It has the same shape as VerifyRequest.
type SettleRequest = VerifyRequest

// SettleResponse is the response from /settle.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"` // CAIP-2
}

// SupportedResponse is the response from /supported.
type SupportedResponse struct {
	Kinds      []SupportedKind   `json:"kinds"`
	Extensions []string          `json:"extensions,omitempty"`
	Signers    map[string]string `json:"signers,omitempty"`
}

// SupportedKind represents a supported scheme+network pair.
type SupportedKind struct {
	X402Version int    `json:"x402Version,omitempty"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// Supports reports whether the facilitator handles scheme on network.
func (r *SupportedResponse) Supports(scheme, network string) bool {
	for _, k := range r.Kinds {
		if k.Scheme == scheme && k.Network == network {
			return true
		}
	}
	return false
}
