package grpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc/metadata"

	x402 "github.com/becomeliminal/x402-gate"
)

const (
	// MetadataKeyPaymentRequirements is the metadata key for payment requirements
	MetadataKeyPaymentRequirements = "x402-payment-requirements"

	// MetadataKeyPayment is the metadata key for the payment payload (x402 v2)
	MetadataKeyPayment = "payment-signature"

	// MetadataKeyLegacyPayment is the metadata key used by v1 clients
	MetadataKeyLegacyPayment = "x-payment"

	// MetadataKeyPaymentResponse is the metadata key for settlement response
	MetadataKeyPaymentResponse = "x402-payment-response"
)

// EncodePaymentRequirements encodes a PaymentRequiredResponse to base64 JSON
// for inclusion in gRPC metadata and status messages
func EncodePaymentRequirements(response *x402.PaymentRequiredResponse) (string, error) {
	jsonBytes, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment requirements: %w", err)
	}

	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

// DecodePaymentRequirements decodes base64 JSON payment requirements from gRPC metadata
func DecodePaymentRequirements(encoded string) (*x402.PaymentRequiredResponse, error) {
	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	var response x402.PaymentRequiredResponse
	if err := json.Unmarshal(jsonBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment requirements: %w", err)
	}

	return &response, nil
}

// EncodePaymentResponse encodes a PaymentResponse to base64 JSON
func EncodePaymentResponse(response *x402.PaymentResponse) (string, error) {
	return x402.EncodePaymentResponse(response)
}

// DecodePaymentResponse decodes base64 JSON payment response from gRPC metadata
func DecodePaymentResponse(encoded string) (*x402.PaymentResponse, error) {
	return x402.DecodePaymentResponse(encoded)
}

// ExtractPaymentFromMetadata extracts and parses the payment authorization
// from gRPC metadata, preferring the v2 key
func ExtractPaymentFromMetadata(md metadata.MD) (*x402.PaymentAuthorization, error) {
	if values := md.Get(MetadataKeyPayment); len(values) > 0 {
		return x402.ParseAuthorization(values[0], false)
	}
	if values := md.Get(MetadataKeyLegacyPayment); len(values) > 0 {
		return x402.ParseAuthorization(values[0], true)
	}
	return nil, fmt.Errorf("no payment found in metadata")
}

// ExtractPaymentRequirementsFromMetadata extracts and decodes payment requirements from gRPC metadata
func ExtractPaymentRequirementsFromMetadata(md metadata.MD) (*x402.PaymentRequiredResponse, error) {
	values := md.Get(MetadataKeyPaymentRequirements)
	if len(values) == 0 {
		return nil, fmt.Errorf("no payment requirements found in metadata")
	}

	return DecodePaymentRequirements(values[0])
}

// requestFromMetadata presents an RPC to the gate as a POST to its full
// method name. Metadata keys become headers, so payment-signature is read
// as PAYMENT-SIGNATURE.
func requestFromMetadata(fullMethod string, md metadata.MD) *x402.Request {
	header := http.Header{}
	for key, values := range md {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	host := ""
	if authority := md.Get(":authority"); len(authority) > 0 {
		host = authority[0]
	}
	return &x402.Request{
		Method: http.MethodPost,
		Path:   fullMethod,
		Host:   host,
		Header: header,
	}
}
