// Package facilitator implements the HTTP client for x402 facilitator
// services, which verify and settle payments on behalf of the gate.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	x402 "github.com/becomeliminal/x402-gate"
)

// DefaultTimeout applies to calls that carry no timeout of their own.
const DefaultTimeout = 10 * time.Second

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// Client handles communication with x402 facilitator services. One Client is
// shared by every protected resource; the facilitator URL and timeout travel
// with each call.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

var _ x402.Facilitator = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new facilitator client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify checks if a payment is valid via POST <url>/verify.
func (c *Client) Verify(ctx context.Context, call x402.FacilitatorCall) (*x402.VerificationResult, error) {
	var resp VerifyResponse
	if err := c.post(ctx, call, "/verify", &resp); err != nil {
		return nil, err
	}
	return &x402.VerificationResult{
		Valid:        resp.IsValid,
		Reason:       resp.InvalidReason,
		PayerAddress: resp.Payer,
	}, nil
}

// Settle executes the payment on-chain via POST <url>/settle.
func (c *Client) Settle(ctx context.Context, call x402.FacilitatorCall) (*x402.SettlementResult, error) {
	var resp SettleResponse
	if err := c.post(ctx, call, "/settle", &resp); err != nil {
		return nil, err
	}
	result := &x402.SettlementResult{
		Success:         resp.Success,
		TransactionHash: resp.Transaction,
		Network:         resp.Network,
		PayerAddress:    resp.Payer,
		ErrorReason:     resp.ErrorReason,
	}
	if resp.Success {
		result.SettledAt = time.Now()
	}
	return result, nil
}

// GetSupported fetches the scheme and network pairs the facilitator handles
// via GET <baseURL>/supported.
func (c *Client) GetSupported(ctx context.Context, baseURL string, timeout time.Duration) (*SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout(timeout))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(baseURL, "/supported"), nil)
	if err != nil {
		return nil, unavailable("failed to create supported request", err)
	}

	var supported SupportedResponse
	if err := c.do(httpReq, "supported", &supported); err != nil {
		return nil, err
	}
	return &supported, nil
}

func (c *Client) post(ctx context.Context, call x402.FacilitatorCall, path string, out interface{}) error {
	if call.Authorization == nil || call.Requirements == nil {
		return fmt.Errorf("facilitator call requires an authorization and requirements")
	}
	op := strings.TrimPrefix(path, "/")

	body, err := json.Marshal(&VerifyRequest{
		X402Version:         versionOf(call.Authorization),
		PaymentPayload:      call.Authorization.Raw,
		PaymentRequirements: call.Requirements,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout(call.Timeout))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(call.URL, path), bytes.NewReader(body))
	if err != nil {
		return unavailable(fmt.Sprintf("failed to create %s request", op), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, op, out)
}

func (c *Client) do(httpReq *http.Request, op string, out interface{}) error {
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("facilitator request failed",
			zap.String("operation", op),
			zap.String("url", httpReq.URL.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return unavailable(fmt.Sprintf("failed to call facilitator %s endpoint", op), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return unavailable(fmt.Sprintf("facilitator %s returned status %d: %s",
			op, resp.StatusCode, strings.TrimSpace(string(bodyBytes))), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return unavailable(fmt.Sprintf("failed to decode %s response", op), err)
	}

	c.logger.Debug("facilitator request completed",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func unavailable(message string, cause error) error {
	return x402.NewGateError(x402.KindFacilitatorUnavailable, message, cause)
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

func callTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func versionOf(auth *x402.PaymentAuthorization) int {
	if auth.Version > 0 {
		return auth.Version
	}
	return x402.X402Version
}
