package x402

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FacilitatorCall is one verify or settle request to a facilitator.
type FacilitatorCall struct {
	URL           string
	Timeout       time.Duration
	Authorization *PaymentAuthorization
	Requirements  *PaymentRequirements
}

// Facilitator verifies and settles payments on the gate's behalf.
// Implementations return an error for transport failures, timeouts and
// non-2xx responses, and a result for everything the facilitator answered.
type Facilitator interface {
	Verify(ctx context.Context, call FacilitatorCall) (*VerificationResult, error)
	Settle(ctx context.Context, call FacilitatorCall) (*SettlementResult, error)
}

// ReplayCache remembers fingerprints of accepted payments.
type ReplayCache interface {
	Contains(ctx context.Context, fp Fingerprint) (bool, error)
	Insert(ctx context.Context, fp Fingerprint, ttl time.Duration) error
}

// PriceStore resolves the price of a resource. It always returns a usable
// amount; a non-nil error means it fell back to static.
type PriceStore interface {
	Resolve(ctx context.Context, resourcePath string, static *big.Rat) (*big.Rat, error)
}

// Stores hands out the replay cache and price store behind a store URL.
// Either may be nil when the URL is empty or unknown.
type Stores interface {
	Lookup(storeURL string) (ReplayCache, PriceStore)
}

// StaticStores serves the same stores for every URL.
type StaticStores struct {
	Replay ReplayCache
	Prices PriceStore
}

// Lookup implements Stores.
func (s StaticStores) Lookup(string) (ReplayCache, PriceStore) {
	return s.Replay, s.Prices
}

// Recorder receives gate metrics.
type Recorder interface {
	RecordRequest()
	RecordOutcome(outcome string)
	ObserveFacilitatorCall(operation string, d time.Duration, err error)
	RecordFacilitatorError(operation string, policy FallbackPolicy)
	RecordStoreError(store, operation string)
	ObservePaymentAmount(amount float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest()                                      {}
func (nopRecorder) RecordOutcome(string)                                {}
func (nopRecorder) ObserveFacilitatorCall(string, time.Duration, error) {}
func (nopRecorder) RecordFacilitatorError(string, FallbackPolicy)       {}
func (nopRecorder) RecordStoreError(string, string)                     {}
func (nopRecorder) ObservePaymentAmount(float64)                        {}

// Outcomes recorded once per evaluated request.
const (
	OutcomeChallenge        = "challenge"
	OutcomeAccepted         = "accepted"
	OutcomeFacilitatorError = "facilitator_error"
	OutcomeSettlementFailed = "settlement_failed"
	outcomeRejectedPrefix   = "rejected:"
)

// Rejection reasons.
const (
	ReasonMalformed              = "malformed"
	ReasonSchemeMismatch         = "scheme_mismatch"
	ReasonNetworkMismatch        = "network_mismatch"
	ReasonExpired                = "expired"
	ReasonNotYetValid            = "not_yet_valid"
	ReasonInsufficientAmount     = "insufficient_amount"
	ReasonRecipientMismatch      = "recipient_mismatch"
	ReasonReplay                 = "replay"
	ReasonInvalid                = "invalid"
	ReasonFacilitatorUnavailable = "facilitator_unavailable"
	ReasonConfig                 = "config"
)

// Action is what the hosting proxy should do with the request.
type Action int

const (
	// Forward passes the request to the backend.
	Forward Action = iota
	// Challenge answers 402 with payment requirements.
	Challenge
	// Reject answers with Decision.Status.
	Reject
)

func (a Action) String() string {
	switch a {
	case Forward:
		return "forward"
	case Challenge:
		return "challenge"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the result of evaluating one request.
type Decision struct {
	// ID correlates the decision with log lines. Empty when the request was
	// not evaluated.
	ID     string
	Action Action
	// Status is the HTTP status for Challenge and Reject.
	Status  int
	Reason  string
	Message string

	Requirements *PaymentRequirements

	// Receipt is exposed to the client in the payment response header.
	Receipt *PaymentResponse

	// Payment is handed to the backend handler via the request context.
	Payment *PaymentContext

	// Legacy is set when the client paid with the v1 header.
	Legacy bool

	// Err is the error behind a rejection or degraded forward.
	Err error
}

// GateOptions configures a Gate.
type GateOptions struct {
	// Facilitator is required.
	Facilitator Facilitator

	// Stores supplies replay and price stores. Without it payments are not
	// checked for replay and prices are always static.
	Stores Stores

	Metrics Recorder
	Logger  *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Gate decides, per request, whether payment is required and whether the
// supplied payment is acceptable. It holds no per-request state and is safe
// for concurrent use.
type Gate struct {
	facilitator Facilitator
	stores      Stores
	metrics     Recorder
	logger      *zap.Logger
	now         func() time.Time
}

// NewGate creates a Gate.
func NewGate(opts GateOptions) (*Gate, error) {
	if opts.Facilitator == nil {
		return nil, configErrorf("facilitator is required")
	}
	g := &Gate{
		facilitator: opts.Facilitator,
		stores:      opts.Stores,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if g.stores == nil {
		g.stores = StaticStores{}
	}
	if g.metrics == nil {
		g.metrics = nopRecorder{}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Evaluate runs the payment protocol for one request against the config of
// the resource it targets.
func (g *Gate) Evaluate(ctx context.Context, req *Request, gc *GateConfig) *Decision {
	if gc == nil || !gc.Enabled || req.skipped() {
		return &Decision{Action: Forward}
	}

	e := &evaluation{
		gate: g,
		req:  req,
		cfg:  gc.WithDefaults(),
		id:   uuid.NewString(),
	}
	e.log = g.logger.With(
		zap.String("decision_id", e.id),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	)
	g.metrics.RecordRequest()

	d := e.run(ctx)
	d.ID = e.id
	g.metrics.RecordOutcome(outcomeOf(d))
	return d
}

// outcomeOf maps a decision to its metrics outcome label.
func outcomeOf(d *Decision) string {
	switch {
	case d.Action == Challenge:
		return OutcomeChallenge
	case d.Action == Reject:
		return outcomeRejectedPrefix + d.Reason
	case d.Payment != nil && !d.Payment.Verified:
		return OutcomeFacilitatorError
	case d.Payment != nil && d.Payment.SettlementFailed:
		return OutcomeSettlementFailed
	default:
		return OutcomeAccepted
	}
}

type evaluation struct {
	gate *Gate
	req  *Request
	cfg  GateConfig
	id   string
	log  *zap.Logger

	replay       ReplayCache
	prices       PriceStore
	resourceKey  string
	requirements *PaymentRequirements
}

func (e *evaluation) run(ctx context.Context) *Decision {
	if err := e.cfg.Validate(); err != nil {
		e.log.Error("invalid gate config", zap.Error(err))
		return e.reject(http.StatusInternalServerError, ReasonConfig, "Server configuration error", err)
	}
	e.replay, e.prices = e.gate.stores.Lookup(e.cfg.StoreURL)

	e.resourceKey = e.cfg.ResourcePath
	if e.resourceKey == "" {
		e.resourceKey = e.req.Path
	}

	requirements, err := e.buildRequirements(ctx)
	if err != nil {
		e.log.Error("failed to build payment requirements", zap.Error(err))
		return e.reject(http.StatusInternalServerError, ReasonConfig, "Server configuration error", err)
	}
	e.requirements = requirements

	header, legacy := e.req.paymentHeader()
	if header == "" {
		e.log.Debug("payment required",
			zap.String("amount", requirements.Amount),
			zap.String("network", requirements.Network))
		return &Decision{
			Action:       Challenge,
			Status:       http.StatusPaymentRequired,
			Message:      challengeMessage(&e.cfg),
			Requirements: requirements,
		}
	}

	auth, err := ParseAuthorization(header, legacy)
	if err != nil {
		e.log.Debug("malformed payment header", zap.Error(err))
		d := e.reject(http.StatusBadRequest, ReasonMalformed, "Invalid payment payload", err)
		d.Legacy = legacy
		return d
	}
	e.log = e.log.With(zap.String("payer", auth.Payer))

	d := e.evaluatePayment(ctx, auth)
	d.Legacy = legacy
	return d
}

func (e *evaluation) evaluatePayment(ctx context.Context, auth *PaymentAuthorization) *Decision {
	if reason, err := e.checkLocally(auth); err != nil {
		e.log.Debug("payment rejected before verification",
			zap.String("reason", reason), zap.Error(err))
		return e.rejectPayment(reason, err)
	}

	fp := auth.Fingerprint(e.resourceKey)
	if e.replay != nil {
		seen, err := e.replayContains(ctx, fp)
		switch {
		case err != nil:
			// Fail open: an unreachable cache must not block payments.
			e.gate.metrics.RecordStoreError("replay", "contains")
			e.log.Warn("replay cache unavailable, treating payment as unseen",
				zap.String("fingerprint", fp.String()), zap.Error(err))
		case seen:
			e.log.Warn("payment replay detected", zap.String("fingerprint", fp.String()))
			return e.reject(http.StatusConflict, ReasonReplay, "Payment replay detected",
				NewGateError(KindReplayDetected, "payment authorization already used", nil))
		}
	}

	call := FacilitatorCall{
		URL:           e.cfg.FacilitatorURL,
		Timeout:       e.cfg.Timeout,
		Authorization: auth,
		Requirements:  e.requirements,
	}

	start := time.Now()
	verification, err := e.gate.facilitator.Verify(ctx, call)
	e.gate.metrics.ObserveFacilitatorCall("verify", time.Since(start), err)
	if err != nil {
		return e.facilitatorUnavailable(auth, err)
	}
	if !verification.Valid {
		e.log.Debug("facilitator rejected payment", zap.String("reason", verification.Reason))
		msg := "Payment verification failed"
		if verification.Reason != "" {
			msg += ": " + verification.Reason
		}
		return e.rejectPayment(ReasonInvalid, NewGateError(KindRequirementsMismatch, msg, nil))
	}

	if e.replay != nil {
		if err := e.replayInsert(ctx, fp); err != nil {
			e.gate.metrics.RecordStoreError("replay", "insert")
			e.log.Warn("consistency: failed to record accepted payment in replay cache",
				zap.String("fingerprint", fp.String()), zap.Error(err))
		}
	}

	payer := verification.PayerAddress
	if payer == "" {
		payer = auth.Payer
	}
	return e.settle(ctx, call, payer)
}

// Replay cache calls are bounded by the resource timeout like every other
// external call.
func (e *evaluation) replayContains(ctx context.Context, fp Fingerprint) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	return e.replay.Contains(ctx, fp)
}

func (e *evaluation) replayInsert(ctx context.Context, fp Fingerprint) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	return e.replay.Insert(ctx, fp, e.cfg.ReplayTTL)
}

func (e *evaluation) settle(ctx context.Context, call FacilitatorCall, payer string) *Decision {
	payment := &PaymentContext{
		Verified:     true,
		PayerAddress: payer,
		Amount:       call.Authorization.Amount.String(),
		Network:      e.requirements.Network,
	}
	d := &Decision{Action: Forward, Requirements: e.requirements, Payment: payment}

	start := time.Now()
	settlement, err := e.gate.facilitator.Settle(ctx, call)
	e.gate.metrics.ObserveFacilitatorCall("settle", time.Since(start), err)

	var reason string
	switch {
	case err != nil:
		e.gate.metrics.RecordFacilitatorError("settle", e.cfg.Fallback)
		reason = "settlement_unavailable"
		d.Err = NewGateError(KindSettlementFailed, "settlement request failed", err)
	case !settlement.Success:
		reason = settlement.ErrorReason
		if reason == "" {
			reason = "settlement_failed"
		}
		d.Err = NewGateError(KindSettlementFailed, reason, nil)
	}
	if d.Err != nil {
		payment.SettlementFailed = true
		d.Receipt = &PaymentResponse{
			Success:     false,
			Network:     e.requirements.Network,
			Payer:       payer,
			ErrorReason: reason,
		}
		e.log.Warn("settlement failed after successful verification, forwarding anyway",
			zap.String("reason", reason), zap.Error(err))
		return d
	}

	if settlement.PayerAddress != "" {
		payment.PayerAddress = settlement.PayerAddress
	}
	if settlement.Network != "" {
		payment.Network = settlement.Network
	}
	payment.TransactionHash = settlement.TransactionHash
	payment.SettledAt = settlement.SettledAt
	if payment.SettledAt.IsZero() {
		payment.SettledAt = e.gate.now()
	}
	d.Receipt = &PaymentResponse{
		Success:     true,
		Transaction: settlement.TransactionHash,
		Network:     payment.Network,
		Payer:       payment.PayerAddress,
	}

	if amount, ok := new(big.Rat).SetString(FormatAmount(call.Authorization.Amount, e.cfg.decimals())); ok {
		f, _ := amount.Float64()
		e.gate.metrics.ObservePaymentAmount(f)
	}
	e.log.Info("payment accepted",
		zap.String("amount", payment.Amount),
		zap.String("network", payment.Network),
		zap.String("transaction", payment.TransactionHash))
	return d
}

func (e *evaluation) facilitatorUnavailable(auth *PaymentAuthorization, err error) *Decision {
	e.gate.metrics.RecordFacilitatorError("verify", e.cfg.Fallback)
	if !errors.Is(err, ErrFacilitatorUnavailable) {
		err = NewGateError(KindFacilitatorUnavailable, "verify request failed", err)
	}

	if e.cfg.Fallback == FallbackPass {
		e.log.Info("facilitator unavailable, forwarding unverified request",
			zap.String("facilitator", e.cfg.FacilitatorURL), zap.Error(err))
		return &Decision{
			Action:       Forward,
			Requirements: e.requirements,
			Payment: &PaymentContext{
				Verified:     false,
				PayerAddress: auth.Payer,
				Amount:       auth.Amount.String(),
				Network:      e.requirements.Network,
			},
			Err: err,
		}
	}

	e.log.Error("facilitator unavailable",
		zap.String("facilitator", e.cfg.FacilitatorURL), zap.Error(err))
	return e.reject(http.StatusBadGateway, ReasonFacilitatorUnavailable, "Payment facilitator unavailable", err)
}

// checkLocally rejects payments that cannot satisfy the requirements
// without asking the facilitator.
func (e *evaluation) checkLocally(auth *PaymentAuthorization) (string, error) {
	req := e.requirements
	mismatch := func(format string, args ...interface{}) error {
		return NewGateError(KindRequirementsMismatch, fmt.Sprintf(format, args...), nil)
	}

	if auth.Scheme != req.Scheme {
		return ReasonSchemeMismatch, mismatch("scheme %q does not match %q", auth.Scheme, req.Scheme)
	}
	if NormalizeNetwork(auth.Network) != NormalizeNetwork(req.Network) {
		return ReasonNetworkMismatch, mismatch("network %q does not match %q", auth.Network, req.Network)
	}

	now := e.gate.now()
	if !auth.ValidBefore.After(now) {
		return ReasonExpired, mismatch("authorization expired at %s", auth.ValidBefore.UTC().Format(time.RFC3339))
	}
	if !auth.ValidAfter.IsZero() && auth.ValidAfter.After(now) {
		return ReasonNotYetValid, mismatch("authorization not valid until %s", auth.ValidAfter.UTC().Format(time.RFC3339))
	}

	if required := req.RequiredAmount(); auth.Amount.Cmp(required) < 0 {
		return ReasonInsufficientAmount, mismatch("amount %s is less than required %s", auth.Amount, required)
	}
	if auth.PayTo != "" && !equalAddress(auth.PayTo, req.PayTo) {
		return ReasonRecipientMismatch, mismatch("recipient %s does not match %s", auth.PayTo, req.PayTo)
	}
	return "", nil
}

func (e *evaluation) reject(status int, reason, message string, err error) *Decision {
	return &Decision{
		Action:  Reject,
		Status:  status,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// rejectPayment answers 402 with the requirements so the client can retry.
func (e *evaluation) rejectPayment(reason string, err error) *Decision {
	d := e.reject(http.StatusPaymentRequired, reason, "Payment verification failed", err)
	var ge *GateError
	if errors.As(err, &ge) && ge.Message != "" {
		d.Message = ge.Message
	}
	d.Requirements = e.requirements
	return d
}

func challengeMessage(cfg *GateConfig) string {
	if cfg.Description != "" {
		return cfg.Description
	}
	return "Payment required"
}

func equalAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
