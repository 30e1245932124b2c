package x402

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Headers returns the protocol headers the hosting proxy adds to its
// response: PAYMENT-REQUIRED on 402 answers and the settlement receipt on
// forwarded requests.
func (d *Decision) Headers() http.Header {
	h := http.Header{}
	if d.Status == http.StatusPaymentRequired && d.Requirements != nil {
		if body, err := json.Marshal(d.paymentRequired()); err == nil {
			h.Set(HeaderPaymentRequired, base64.StdEncoding.EncodeToString(body))
		}
	}
	if d.Action == Forward && d.Receipt != nil {
		if encoded, err := EncodePaymentResponse(d.Receipt); err == nil {
			if d.Legacy {
				h.Set(HeaderLegacyPaymentResponse, encoded)
			} else {
				h.Set(HeaderPaymentResponse, encoded)
			}
		}
	}
	return h
}

// Respond renders a Challenge or Reject decision. Browsers receive an HTML
// paywall for challenges, everyone else JSON.
func (d *Decision) Respond(req *Request) (status int, body []byte, contentType string) {
	status = d.Status
	if status == 0 {
		status = http.StatusOK
	}

	if status == http.StatusPaymentRequired && d.Requirements != nil {
		if d.Action == Challenge && req != nil && req.IsBrowser() {
			var buf bytes.Buffer
			if err := renderPaywall(&buf, d.Message, d.Requirements); err == nil {
				return status, buf.Bytes(), "text/html; charset=utf-8"
			}
		}
		body, _ = json.Marshal(d.paymentRequired())
		return status, body, "application/json"
	}

	body, _ = json.Marshal(map[string]string{
		"error":  d.Message,
		"reason": d.Reason,
	})
	return status, body, "application/json"
}

func (d *Decision) paymentRequired() *PaymentRequiredResponse {
	return &PaymentRequiredResponse{
		X402Version: X402Version,
		Error:       d.Message,
		Accepts:     []PaymentRequirements{*d.Requirements},
	}
}

// WriteTo writes the decision as an HTTP response. Forward decisions only
// get their headers written.
func (d *Decision) WriteTo(w http.ResponseWriter, req *Request) {
	for k, v := range d.Headers() {
		w.Header()[k] = v
	}
	if d.Action == Forward {
		return
	}
	status, body, contentType := d.Respond(req)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(body)
}

// EncodePaymentResponse encodes a receipt in payment response header format
// (base64 JSON).
func EncodePaymentResponse(resp *PaymentResponse) (string, error) {
	responseJSON, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(responseJSON), nil
}

// DecodePaymentResponse decodes a PAYMENT-RESPONSE header
func DecodePaymentResponse(header string) (*PaymentResponse, error) {
	responseBytes, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	var response PaymentResponse
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &response, nil
}

// ReadPaymentRequirements is a helper to extract payment requirements from a 402 response
func ReadPaymentRequirements(resp *http.Response) (*PaymentRequiredResponse, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("expected status 402, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var paymentReq PaymentRequiredResponse
	if err := json.Unmarshal(body, &paymentReq); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	return &paymentReq, nil
}
