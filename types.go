package x402

import (
	"context"
	"encoding/json"
	"math/big"
	"strconv"
	"time"
)

// X402Version is the protocol version advertised in challenges.
const X402Version = 2

// SchemeExact is the only payment scheme the gate issues requirements for.
const SchemeExact = "exact"

// PaymentRequirements describes what payment is required for a resource.
// Uses CAIP-2 network identifiers (e.g., "eip155:8453").
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`           // CAIP-2: "eip155:8453"
	Amount            string                 `json:"amount"`            // atomic units (v2)
	MaxAmountRequired string                 `json:"maxAmountRequired"` // atomic units (v1)
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description"`
	MimeType          string                 `json:"mimeType,omitempty"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Asset             string                 `json:"asset,omitempty"` // token contract address
	Extra             map[string]interface{} `json:"extra,omitempty"`

	required *big.Int
}

// RequiredAmount returns the required amount in atomic units.
func (p *PaymentRequirements) RequiredAmount() *big.Int {
	if p.required != nil {
		return new(big.Int).Set(p.required)
	}
	n, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

// PaymentRequiredResponse is the 402 response body.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the decoded payment header. V2 clients populate Accepted,
// V1 clients populate Scheme and Network at the top level.
type PaymentPayload struct {
	X402Version int                  `json:"x402Version"`
	Scheme      string               `json:"scheme,omitempty"`
	Network     string               `json:"network,omitempty"`
	Accepted    *PaymentRequirements `json:"accepted,omitempty"`
	Payload     json.RawMessage      `json:"payload"`
}

// ExactPayload is the scheme-specific payload of an "exact" EVM payment,
// following the EIP-3009 transferWithAuthorization specification.
type ExactPayload struct {
	Signature     string              `json:"signature"`
	Authorization *ExactAuthorization `json:"authorization"`
}

// ExactAuthorization contains the EIP-3009 authorization parameters.
type ExactAuthorization struct {
	From        string        `json:"from"`
	To          string        `json:"to"`
	Value       string        `json:"value"`
	ValidAfter  UnixTimestamp `json:"validAfter"`
	ValidBefore UnixTimestamp `json:"validBefore"`
	Nonce       string        `json:"nonce"`
}

// UnixTimestamp is a unix time in seconds that decodes from either a JSON
// number or a decimal string.
type UnixTimestamp int64

// UnmarshalJSON implements json.Unmarshaler.
func (u *UnixTimestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*u = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*u = UnixTimestamp(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*u = UnixTimestamp(n)
	return nil
}

// Time converts the timestamp to a time.Time. Zero maps to the zero time.
func (u UnixTimestamp) Time() time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(int64(u), 0)
}

// PaymentAuthorization is the client-supplied proof parsed from a payment header.
type PaymentAuthorization struct {
	Version     int
	Scheme      string
	Network     string
	Signature   string
	Nonce       string
	Payer       string
	PayTo       string
	Amount      *big.Int // atomic units
	ValidAfter  time.Time
	ValidBefore time.Time

	// Legacy is set when the authorization arrived in the V1 X-PAYMENT header.
	Legacy bool

	// Raw is the decoded header JSON, forwarded verbatim to the facilitator.
	Raw json.RawMessage
}

// VerificationResult contains the result of a facilitator verify call.
type VerificationResult struct {
	Valid        bool
	Reason       string
	PayerAddress string
}

// SettlementResult contains the result of a facilitator settle call.
type SettlementResult struct {
	Success         bool
	TransactionHash string
	Network         string // CAIP-2
	PayerAddress    string
	ErrorReason     string
	SettledAt       time.Time
}

// PaymentResponse is the settlement receipt sent in the PAYMENT-RESPONSE header.
type PaymentResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"` // CAIP-2
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// PaymentContext contains payment information that can be extracted in handlers.
type PaymentContext struct {
	// Verified is false when the request was let through under fallback=pass.
	Verified         bool
	PayerAddress     string
	Amount           string // atomic units
	Network          string // CAIP-2
	TransactionHash  string
	SettlementFailed bool
	SettledAt        time.Time
}

type contextKey string

const (
	// PaymentContextKey is the key used to store payment context in request context.
	PaymentContextKey contextKey = "x402-payment"
)

// WithPayment returns a copy of ctx carrying the payment context.
func WithPayment(ctx context.Context, payment *PaymentContext) context.Context {
	if payment == nil {
		return ctx
	}
	return context.WithValue(ctx, PaymentContextKey, payment)
}
