package x402

import (
	"context"
	"fmt"
	"net/http"
)

// PaymentMiddleware creates HTTP middleware that enforces x402 payment requirements.
// Routes resolves each request path to the GateConfig protecting it; paths
// without a config pass through untouched.
func PaymentMiddleware(gate *Gate, routes *Routes) func(http.Handler) http.Handler {
	if gate == nil {
		panic("invalid x402 middleware configuration: gate is required")
	}
	if routes == nil {
		panic("invalid x402 middleware configuration: routes are required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg, requiresPayment := routes.Match(r.URL.Path)
			if !requiresPayment {
				next.ServeHTTP(w, r)
				return
			}

			req := NewRequest(r)
			decision := gate.Evaluate(r.Context(), req, cfg)
			decision.WriteTo(w, req)
			if decision.Action != Forward {
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPayment(r.Context(), decision.Payment)))
		})
	}
}

// GetPaymentFromContext extracts payment information from the request context
// This can be used in gRPC handlers to access payment details
func GetPaymentFromContext(ctx context.Context) (*PaymentContext, bool) {
	payment, ok := ctx.Value(PaymentContextKey).(*PaymentContext)
	return payment, ok
}

// RequirePayment is a helper that extracts payment from context and returns error if not found
// Useful for handlers that must have a verified payment
func RequirePayment(ctx context.Context) (*PaymentContext, error) {
	payment, ok := GetPaymentFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("payment context not found")
	}
	if !payment.Verified {
		return nil, fmt.Errorf("payment not verified")
	}
	return payment, nil
}
