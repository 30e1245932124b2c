package x402

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/metadata"
)

// gRPC metadata keys carrying the payment context behind grpc-gateway.
const (
	mdPaymentVerified  = "x-payment-verified"
	mdPaymentPayer     = "x-payment-payer"
	mdPaymentAmount    = "x-payment-amount"
	mdPaymentNetwork   = "x-payment-network"
	mdPaymentTxHash    = "x-payment-tx-hash"
	mdPaymentSettledAt = "x-payment-settled-at"
	mdSettlementFailed = "x-payment-settlement-failed"
)

var mdPaymentKeys = []string{
	mdPaymentVerified,
	mdPaymentPayer,
	mdPaymentAmount,
	mdPaymentNetwork,
	mdPaymentTxHash,
	mdPaymentSettledAt,
	mdSettlementFailed,
}

// WithPaymentMetadata returns a ServeMuxOption that propagates payment information
// from HTTP context to gRPC metadata, making it accessible in gRPC handlers.
//
// grpc-gateway also forwards client "Grpc-Metadata-*" headers, and places them
// ahead of annotated values. Every payment key is therefore written on every
// request, empty when there is no payment, and readers take the last value.
func WithPaymentMetadata() runtime.ServeMuxOption {
	return runtime.WithMetadata(func(ctx context.Context, r *http.Request) metadata.MD {
		md := metadata.MD{}
		for _, key := range mdPaymentKeys {
			md.Set(key, "")
		}

		payment, ok := GetPaymentFromContext(ctx)
		if !ok || payment == nil {
			return md
		}

		md.Set(mdPaymentVerified, strconv.FormatBool(payment.Verified))
		md.Set(mdPaymentPayer, payment.PayerAddress)
		md.Set(mdPaymentAmount, payment.Amount)
		md.Set(mdPaymentNetwork, payment.Network)
		md.Set(mdPaymentTxHash, payment.TransactionHash)
		md.Set(mdSettlementFailed, strconv.FormatBool(payment.SettlementFailed))
		if !payment.SettledAt.IsZero() {
			md.Set(mdPaymentSettledAt, strconv.FormatInt(payment.SettledAt.Unix(), 10))
		}

		return md
	})
}

// GetPaymentFromGRPCContext extracts payment information from gRPC metadata
// written by WithPaymentMetadata. Use this in gRPC handlers served behind
// grpc-gateway; direct gRPC callers are gated by the grpc package instead.
func GetPaymentFromGRPCContext(ctx context.Context) (*PaymentContext, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, false
	}

	verified := last(md, mdPaymentVerified)
	if verified == "" {
		return nil, false
	}

	payment := &PaymentContext{
		Verified:         verified == "true",
		PayerAddress:     last(md, mdPaymentPayer),
		Amount:           last(md, mdPaymentAmount),
		Network:          last(md, mdPaymentNetwork),
		TransactionHash:  last(md, mdPaymentTxHash),
		SettlementFailed: last(md, mdSettlementFailed) == "true",
	}
	if ts, err := strconv.ParseInt(last(md, mdPaymentSettledAt), 10, 64); err == nil {
		payment.SettledAt = time.Unix(ts, 0)
	}

	return payment, true
}

// last returns the final value of key; annotated values follow forwarded headers.
func last(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[len(v)-1]
	}
	return ""
}

// GetHTTPPathPattern extracts the HTTP path pattern from grpc-gateway context
// This is useful if you need to make payment decisions based on the matched route
func GetHTTPPathPattern(ctx context.Context) (string, bool) {
	pattern, ok := runtime.HTTPPathPattern(ctx)
	return pattern, ok
}
