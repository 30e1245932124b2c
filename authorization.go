package x402

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Protocol headers.
const (
	// HeaderPaymentSignature carries the payment from x402 v2 clients.
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	// HeaderPayment carries the payment from v1 clients.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentResponse carries the settlement receipt to v2 clients.
	HeaderPaymentResponse = "PAYMENT-RESPONSE"
	// HeaderLegacyPaymentResponse carries the settlement receipt to v1 clients.
	HeaderLegacyPaymentResponse = "X-PAYMENT-RESPONSE"
	// HeaderPaymentRequired mirrors the 402 body, base64 encoded.
	HeaderPaymentRequired = "PAYMENT-REQUIRED"
)

// MaxPaymentHeaderSize bounds the encoded payment header.
const MaxPaymentHeaderSize = 64 * 1024

// ParseAuthorization decodes a payment header into a PaymentAuthorization.
// legacy marks headers received as X-PAYMENT.
func ParseAuthorization(header string, legacy bool) (*PaymentAuthorization, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, NewGateError(KindMalformedAuthorization, "payment header is empty", nil)
	}
	if len(header) > MaxPaymentHeaderSize {
		return nil, NewGateError(KindMalformedAuthorization,
			fmt.Sprintf("payment header exceeds %d bytes", MaxPaymentHeaderSize), nil)
	}

	raw, err := decodeBase64(header)
	if err != nil {
		return nil, NewGateError(KindMalformedAuthorization, "failed to decode base64", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, NewGateError(KindMalformedAuthorization, "failed to parse JSON", err)
	}
	if err := parsePaymentPayload(&payload); err != nil {
		return nil, NewGateError(KindMalformedAuthorization, err.Error(), nil)
	}

	scheme, network := payload.Scheme, payload.Network
	if payload.Accepted != nil {
		if scheme == "" {
			scheme = payload.Accepted.Scheme
		}
		if network == "" {
			network = payload.Accepted.Network
		}
	}
	if scheme == "" {
		return nil, NewGateError(KindMalformedAuthorization, "scheme is required", nil)
	}
	if network == "" {
		return nil, NewGateError(KindMalformedAuthorization, "network is required", nil)
	}

	var exact ExactPayload
	if err := json.Unmarshal(payload.Payload, &exact); err != nil {
		return nil, NewGateError(KindMalformedAuthorization, "invalid payload", err)
	}
	auth, err := parseExactPayload(&exact)
	if err != nil {
		return nil, NewGateError(KindMalformedAuthorization, err.Error(), nil)
	}

	auth.Version = payload.X402Version
	auth.Scheme = scheme
	auth.Network = network
	auth.Legacy = legacy
	auth.Raw = json.RawMessage(raw)
	return auth, nil
}

// parsePaymentPayload checks the envelope fields every version carries.
func parsePaymentPayload(p *PaymentPayload) error {
	if p.X402Version <= 0 {
		return fmt.Errorf("x402Version is required")
	}
	if len(p.Payload) == 0 || string(p.Payload) == "null" {
		return fmt.Errorf("payload is required")
	}
	return nil
}

func parseExactPayload(p *ExactPayload) (*PaymentAuthorization, error) {
	if p.Signature == "" {
		return nil, fmt.Errorf("signature is required")
	}
	a := p.Authorization
	if a == nil {
		return nil, fmt.Errorf("authorization is required")
	}
	if a.From == "" {
		return nil, fmt.Errorf("authorization.from is required")
	}
	if a.Value == "" {
		return nil, fmt.Errorf("authorization.value is required")
	}
	value, ok := new(big.Int).SetString(a.Value, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("authorization.value %q is not a non-negative integer", a.Value)
	}
	if a.Nonce == "" {
		return nil, fmt.Errorf("authorization.nonce is required")
	}
	if a.ValidBefore == 0 {
		return nil, fmt.Errorf("authorization.validBefore is required")
	}

	return &PaymentAuthorization{
		Signature:   p.Signature,
		Nonce:       a.Nonce,
		Payer:       a.From,
		PayTo:       a.To,
		Amount:      value,
		ValidAfter:  a.ValidAfter.Time(),
		ValidBefore: a.ValidBefore.Time(),
	}, nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Fingerprint identifies a payment authorization for replay detection.
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Fingerprint hashes the signature, nonce, resource and network of the
// authorization. Hex fields are compared by their decoded bytes and the
// network by its CAIP-2 form, so encodings of the same payment collide.
func (a *PaymentAuthorization) Fingerprint(resource string) Fingerprint {
	h := sha256.New()
	for _, part := range [][]byte{
		normalizeHex(a.Signature),
		normalizeHex(a.Nonce),
		[]byte(resource),
		[]byte(NormalizeNetwork(a.Network)),
	} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// EncodePaymentPayload encodes a PaymentPayload to header format (base64 JSON).
// Useful for testing and client implementations.
func EncodePaymentPayload(payload *PaymentPayload) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(payloadJSON), nil
}
