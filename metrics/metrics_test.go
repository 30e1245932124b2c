package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	x402 "github.com/becomeliminal/x402-gate"
)

func TestSink_Counters(t *testing.T) {
	s := New("test")

	s.RecordRequest()
	s.RecordRequest()
	s.RecordOutcome(x402.OutcomeChallenge)
	s.RecordOutcome("rejected:replay")
	s.RecordOutcome("rejected:replay")
	s.RecordFacilitatorError("verify", x402.FallbackPass)
	s.RecordStoreError("replay", "contains")

	if got := testutil.ToFloat64(s.requestsTotal); got != 2 {
		t.Errorf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(s.outcomesTotal.WithLabelValues("rejected:replay")); got != 2 {
		t.Errorf("expected 2 replay rejections, got %v", got)
	}
	if got := testutil.ToFloat64(s.outcomesTotal.WithLabelValues(x402.OutcomeChallenge)); got != 1 {
		t.Errorf("expected 1 challenge, got %v", got)
	}
	if got := testutil.ToFloat64(s.facilitatorErrors.WithLabelValues("verify", "pass")); got != 1 {
		t.Errorf("expected 1 facilitator error, got %v", got)
	}
	if got := testutil.ToFloat64(s.storeErrors.WithLabelValues("replay", "contains")); got != 1 {
		t.Errorf("expected 1 store error, got %v", got)
	}
}

func TestSink_FacilitatorLatency(t *testing.T) {
	s := New("test")

	s.ObserveFacilitatorCall("verify", 20*time.Millisecond, nil)
	s.ObserveFacilitatorCall("verify", time.Second, fmt.Errorf("call failed: %w", context.DeadlineExceeded))
	s.ObserveFacilitatorCall("settle", time.Second, fmt.Errorf("connection refused"))

	if n := testutil.CollectAndCount(s.facilitatorDuration); n != 3 {
		t.Errorf("expected 3 latency series, got %d", n)
	}

	expected := `
# HELP x402_payment_amount Accepted payment amounts in asset units
# TYPE x402_payment_amount histogram
x402_payment_amount_bucket{le="0.0001"} 0
x402_payment_amount_bucket{le="0.001"} 1
x402_payment_amount_bucket{le="0.01"} 1
x402_payment_amount_bucket{le="0.1"} 1
x402_payment_amount_bucket{le="1"} 1
x402_payment_amount_bucket{le="10"} 1
x402_payment_amount_bucket{le="100"} 1
x402_payment_amount_bucket{le="+Inf"} 1
x402_payment_amount_sum 0.001
x402_payment_amount_count 1
`
	s.ObservePaymentAmount(0.001)
	if err := testutil.CollectAndCompare(s.paymentAmount, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestSink_Handler(t *testing.T) {
	s := New("v1.2.3")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)

	if !strings.Contains(string(body), `x402_gate_info{version="v1.2.3"} 1`) {
		t.Errorf("expected info line in empty exposition, got:\n%s", body)
	}

	s.RecordOutcome(x402.OutcomeAccepted)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ = io.ReadAll(w.Body)

	if !strings.Contains(string(body), `x402_gate_outcomes_total{outcome="accepted"} 1`) {
		t.Errorf("expected accepted outcome in exposition, got:\n%s", body)
	}
}
