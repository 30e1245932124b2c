package grpc

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	x402 "github.com/becomeliminal/x402-gate"
)

// UnaryServerInterceptor creates a gRPC unary server interceptor that enforces x402 payments
// Routes are matched against full method names ("/package.Service/Method",
// "/package.Service/*")
func UnaryServerInterceptor(gate *x402.Gate, routes *x402.Routes) grpc.UnaryServerInterceptor {
	mustValidate(gate, routes)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		cfg, requiresPayment := routes.Match(info.FullMethod)
		if !requiresPayment {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		decision := gate.Evaluate(ctx, requestFromMetadata(info.FullMethod, md), cfg)
		if decision.Action != x402.Forward {
			if decision.Requirements != nil && decision.Status == http.StatusPaymentRequired {
				if encoded, err := EncodePaymentRequirements(paymentRequired(decision)); err == nil {
					grpc.SetHeader(ctx, metadata.Pairs(MetadataKeyPaymentRequirements, encoded))
				}
			}
			return nil, decisionError(decision)
		}

		ctx = x402.WithPayment(ctx, decision.Payment)
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, err
		}

		if trailer := receiptTrailer(decision); trailer != nil {
			grpc.SetTrailer(ctx, trailer)
		}
		return resp, nil
	}
}

func mustValidate(gate *x402.Gate, routes *x402.Routes) {
	if gate == nil {
		panic("invalid x402 config: gate is required")
	}
	if routes == nil {
		panic("invalid x402 config: routes are required")
	}
}

// decisionError maps a rejection to a gRPC status. Payment required uses
// RESOURCE_EXHAUSTED, following Google Cloud's precedent for billing
// enforcement, with the base64 requirements as the message.
func decisionError(d *x402.Decision) error {
	switch d.Status {
	case http.StatusPaymentRequired:
		if d.Requirements == nil {
			return status.Error(codes.ResourceExhausted, d.Message)
		}
		encoded, err := EncodePaymentRequirements(paymentRequired(d))
		if err != nil {
			return status.Errorf(codes.Internal, "failed to encode payment requirements: %v", err)
		}
		return status.Error(codes.ResourceExhausted, encoded)
	case http.StatusBadRequest:
		return status.Errorf(codes.InvalidArgument, "invalid payment: %v", d.Err)
	case http.StatusConflict:
		return status.Error(codes.AlreadyExists, d.Message)
	case http.StatusBadGateway:
		return status.Error(codes.Unavailable, d.Message)
	default:
		return status.Error(codes.Internal, d.Message)
	}
}

func paymentRequired(d *x402.Decision) *x402.PaymentRequiredResponse {
	return &x402.PaymentRequiredResponse{
		X402Version: x402.X402Version,
		Error:       d.Message,
		Accepts:     []x402.PaymentRequirements{*d.Requirements},
	}
}

func receiptTrailer(d *x402.Decision) metadata.MD {
	if d.Receipt == nil {
		return nil
	}
	encoded, err := EncodePaymentResponse(d.Receipt)
	if err != nil {
		return nil
	}
	return metadata.Pairs(MetadataKeyPaymentResponse, encoded)
}

// GetPaymentFromContext extracts payment information from the gRPC context
// This can be used in gRPC service handlers to access payment details
func GetPaymentFromContext(ctx context.Context) (*x402.PaymentContext, bool) {
	return x402.GetPaymentFromContext(ctx)
}

// RequirePayment is a helper that extracts payment from context and returns error if not found
// Useful for gRPC handlers that must have valid payment
func RequirePayment(ctx context.Context) (*x402.PaymentContext, error) {
	payment, ok := GetPaymentFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.ResourceExhausted, "payment context not found")
	}
	if !payment.Verified {
		return nil, status.Error(codes.ResourceExhausted, "payment not verified")
	}
	return payment, nil
}
