package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// testAuthorization describes a signed exact payment for tests.
type testAuthorization struct {
	Network     string
	From        string
	To          string
	Value       string
	Nonce       string
	Signature   string
	ValidAfter  int64
	ValidBefore int64
}

func defaultTestAuthorization() testAuthorization {
	return testAuthorization{
		Network:     "eip155:84532",
		From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		To:          "0xABC",
		Value:       "1000",
		Nonce:       "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480",
		Signature:   "0x2d6a7588d6acca505cbf0d9a4a227e0c52c6c34008c8e8986a1283259764173608a2ce6496642e377d6da8dbbf5836e9bd15092f9ecab05ded3d6293af148b571c",
		ValidBefore: time.Now().Add(time.Hour).Unix(),
	}
}

// encode builds a v2 payment header carrying the authorization.
func (a testAuthorization) encode(t *testing.T) string {
	t.Helper()
	exact, err := json.Marshal(map[string]interface{}{
		"signature": a.Signature,
		"authorization": map[string]interface{}{
			"from":        a.From,
			"to":          a.To,
			"value":       a.Value,
			"validAfter":  a.ValidAfter,
			"validBefore": a.ValidBefore,
			"nonce":       a.Nonce,
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal exact payload: %v", err)
	}
	header, err := EncodePaymentPayload(&PaymentPayload{
		X402Version: X402Version,
		Accepted: &PaymentRequirements{
			Scheme:  SchemeExact,
			Network: a.Network,
		},
		Payload: exact,
	})
	if err != nil {
		t.Fatalf("failed to encode payment: %v", err)
	}
	return header
}

func TestParseAuthorization(t *testing.T) {
	auth := defaultTestAuthorization()
	auth.ValidAfter = 1700000000

	got, err := ParseAuthorization(auth.encode(t), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Version != 2 || got.Scheme != "exact" || got.Network != "eip155:84532" {
		t.Errorf("unexpected envelope: %+v", got)
	}
	if got.Payer != auth.From || got.PayTo != "0xABC" || got.Nonce != auth.Nonce {
		t.Errorf("unexpected authorization fields: %+v", got)
	}
	if got.Amount.String() != "1000" {
		t.Errorf("expected amount 1000, got %s", got.Amount)
	}
	if got.ValidAfter.Unix() != 1700000000 || got.ValidBefore.Unix() != auth.ValidBefore {
		t.Errorf("unexpected validity window %s - %s", got.ValidAfter, got.ValidBefore)
	}
	if got.Legacy {
		t.Error("expected v2 header not to be legacy")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(got.Raw, &raw); err != nil {
		t.Fatalf("raw payload is not JSON: %v", err)
	}
	if raw["x402Version"] != float64(2) {
		t.Errorf("raw payload not preserved: %v", raw)
	}
}

func TestParseAuthorizationLegacy(t *testing.T) {
	// v1 clients send scheme and network at the top level and timestamps as strings.
	raw := `{
		"x402Version": 1,
		"scheme": "exact",
		"network": "base-sepolia",
		"payload": {
			"signature": "0xabcdef",
			"authorization": {
				"from": "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				"to": "0xABC",
				"value": "2500",
				"validAfter": "0",
				"validBefore": "4102444800",
				"nonce": "0x01"
			}
		}
	}`
	header := base64.URLEncoding.EncodeToString([]byte(raw))

	got, err := ParseAuthorization(header, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Legacy || got.Version != 1 {
		t.Errorf("expected legacy v1 authorization, got %+v", got)
	}
	if got.Network != "base-sepolia" {
		t.Errorf("expected network base-sepolia, got %s", got.Network)
	}
	if !got.ValidAfter.IsZero() {
		t.Errorf("expected zero validAfter, got %s", got.ValidAfter)
	}
	if got.ValidBefore.Unix() != 4102444800 {
		t.Errorf("unexpected validBefore %d", got.ValidBefore.Unix())
	}
}

func TestParseAuthorizationMalformed(t *testing.T) {
	encode := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	validPayload := `{"signature":"0xab","authorization":{"from":"0x1","to":"0x2","value":"1","validBefore":4102444800,"nonce":"0x1"}}`

	tests := []struct {
		name   string
		header string
	}{
		{name: "empty", header: ""},
		{name: "not base64", header: "%%%not-base64%%%"},
		{name: "not json", header: encode("hello")},
		{name: "missing version", header: encode(`{"scheme":"exact","network":"eip155:8453","payload":` + validPayload + `}`)},
		{name: "missing payload", header: encode(`{"x402Version":2,"scheme":"exact","network":"eip155:8453"}`)},
		{name: "missing scheme", header: encode(`{"x402Version":2,"network":"eip155:8453","payload":` + validPayload + `}`)},
		{name: "missing network", header: encode(`{"x402Version":2,"scheme":"exact","payload":` + validPayload + `}`)},
		{name: "missing signature", header: encode(`{"x402Version":2,"scheme":"exact","network":"eip155:8453","payload":{"authorization":{"from":"0x1","value":"1","validBefore":1,"nonce":"0x1"}}}`)},
		{name: "missing authorization", header: encode(`{"x402Version":2,"scheme":"exact","network":"eip155:8453","payload":{"signature":"0xab"}}`)},
		{name: "negative value", header: encode(`{"x402Version":2,"scheme":"exact","network":"eip155:8453","payload":{"signature":"0xab","authorization":{"from":"0x1","value":"-5","validBefore":1,"nonce":"0x1"}}}`)},
		{name: "decimal value", header: encode(`{"x402Version":2,"scheme":"exact","network":"eip155:8453","payload":{"signature":"0xab","authorization":{"from":"0x1","value":"1.5","validBefore":1,"nonce":"0x1"}}}`)},
		{name: "missing nonce", header: encode(`{"x402Version":2,"scheme":"exact","network":"eip155:8453","payload":{"signature":"0xab","authorization":{"from":"0x1","value":"1","validBefore":1}}}`)},
		{name: "missing validBefore", header: encode(`{"x402Version":2,"scheme":"exact","network":"eip155:8453","payload":{"signature":"0xab","authorization":{"from":"0x1","value":"1","nonce":"0x1"}}}`)},
		{name: "oversized", header: strings.Repeat("A", MaxPaymentHeaderSize+4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAuthorization(tt.header, false)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrMalformedAuthorization) {
				t.Errorf("expected malformed authorization error, got %v", err)
			}
			if KindOf(err) != KindMalformedAuthorization {
				t.Errorf("expected kind %s, got %s", KindMalformedAuthorization, KindOf(err))
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	base := &PaymentAuthorization{
		Signature: "0xABCDEF",
		Nonce:     "0x0102",
		Network:   "eip155:84532",
	}
	fp := base.Fingerprint("/v1/report")

	sameLowercase := &PaymentAuthorization{Signature: "0xabcdef", Nonce: "0x0102", Network: "eip155:84532"}
	if sameLowercase.Fingerprint("/v1/report") != fp {
		t.Error("expected hex case not to change the fingerprint")
	}

	friendlyNetwork := &PaymentAuthorization{Signature: "0xABCDEF", Nonce: "0x0102", Network: "base-sepolia"}
	if friendlyNetwork.Fingerprint("/v1/report") != fp {
		t.Error("expected friendly network name to match its CAIP-2 form")
	}

	if base.Fingerprint("/v1/other") == fp {
		t.Error("expected a different resource to change the fingerprint")
	}

	otherNonce := &PaymentAuthorization{Signature: "0xABCDEF", Nonce: "0x0103", Network: "eip155:84532"}
	if otherNonce.Fingerprint("/v1/report") == fp {
		t.Error("expected a different nonce to change the fingerprint")
	}

	// Length prefixes keep field boundaries unambiguous.
	a := &PaymentAuthorization{Signature: "ab", Nonce: "c", Network: "n"}
	b := &PaymentAuthorization{Signature: "a", Nonce: "bc", Network: "n"}
	if a.Fingerprint("r") == b.Fingerprint("r") {
		t.Error("expected shifted field boundaries to change the fingerprint")
	}

	if len(fp.String()) != 64 {
		t.Errorf("expected 64 hex characters, got %q", fp.String())
	}
}
