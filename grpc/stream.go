package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	x402 "github.com/becomeliminal/x402-gate"
)

// StreamServerInterceptor creates a gRPC stream server interceptor that enforces x402 payments
// For streaming RPCs, payment is verified BEFORE the stream begins (upfront payment)
// Per-message payment is not supported
func StreamServerInterceptor(gate *x402.Gate, routes *x402.Routes) grpc.StreamServerInterceptor {
	mustValidate(gate, routes)

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()

		cfg, requiresPayment := routes.Match(info.FullMethod)
		if !requiresPayment {
			return handler(srv, ss)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		decision := gate.Evaluate(ctx, requestFromMetadata(info.FullMethod, md), cfg)
		if decision.Action != x402.Forward {
			return decisionError(decision)
		}

		wrappedStream := &paymentServerStream{
			ServerStream: ss,
			ctx:          x402.WithPayment(ctx, decision.Payment),
		}

		err := handler(srv, wrappedStream)
		if err == nil {
			if trailer := receiptTrailer(decision); trailer != nil {
				wrappedStream.SetTrailer(trailer)
			}
		}
		return err
	}
}

// paymentServerStream wraps grpc.ServerStream to provide updated context with payment info
type paymentServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context with payment information
func (s *paymentServerStream) Context() context.Context {
	return s.ctx
}
