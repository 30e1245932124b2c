// Package gin adapts the x402 payment gate to Gin. It translates gin.Context
// to an x402.Request and writes the gate's decision back through Gin.
package gin

import (
	"github.com/gin-gonic/gin"

	x402 "github.com/becomeliminal/x402-gate"
)

// PaymentContextKey is the gin context key holding the *x402.PaymentContext
// of a forwarded request.
const PaymentContextKey = "x402_payment"

// NewX402Middleware returns Gin middleware enforcing payment on the paths
// routes resolves. Requests the gate forwards continue down the chain with
// the payment stored both in the gin context and the request context.
//
//	r := gin.New()
//	r.Use(x402gin.NewX402Middleware(gate, routes))
//	r.GET("/v1/report", func(c *gin.Context) {
//	    payment, _ := x402gin.GetPayment(c)
//	    c.JSON(200, gin.H{"payer": payment.PayerAddress})
//	})
func NewX402Middleware(gate *x402.Gate, routes *x402.Routes) gin.HandlerFunc {
	if gate == nil {
		panic("invalid x402 gin middleware configuration: gate is required")
	}
	if routes == nil {
		panic("invalid x402 gin middleware configuration: routes are required")
	}

	return func(c *gin.Context) {
		cfg, ok := routes.Match(c.Request.URL.Path)
		if !ok {
			c.Next()
			return
		}

		req := x402.NewRequest(c.Request)
		decision := gate.Evaluate(c.Request.Context(), req, cfg)
		for k, v := range decision.Headers() {
			c.Writer.Header()[k] = v
		}

		if decision.Action != x402.Forward {
			status, body, contentType := decision.Respond(req)
			c.Data(status, contentType, body)
			c.Abort()
			return
		}

		if decision.Payment != nil {
			c.Set(PaymentContextKey, decision.Payment)
			c.Request = c.Request.WithContext(x402.WithPayment(c.Request.Context(), decision.Payment))
		}
		c.Next()
	}
}

// GetPayment returns the payment stored by the middleware.
func GetPayment(c *gin.Context) (*x402.PaymentContext, bool) {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return nil, false
	}
	payment, ok := v.(*x402.PaymentContext)
	return payment, ok
}
