package x402

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a GateError.
type ErrorKind string

// Error kinds.
const (
	KindConfig                 ErrorKind = "CONFIG_ERROR"
	KindMalformedAuthorization ErrorKind = "MALFORMED_AUTHORIZATION"
	KindRequirementsMismatch   ErrorKind = "REQUIREMENTS_MISMATCH"
	KindReplayDetected         ErrorKind = "REPLAY_DETECTED"
	KindFacilitatorUnavailable ErrorKind = "FACILITATOR_UNAVAILABLE"
	KindSettlementFailed       ErrorKind = "SETTLEMENT_FAILED"
	KindStoreUnavailable       ErrorKind = "STORE_UNAVAILABLE"
)

// GateError represents an error produced while evaluating a payment.
type GateError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *GateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GateError) Unwrap() error {
	return e.Cause
}

// Is matches any GateError of the same kind, so the sentinels below can be
// used with errors.Is.
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConfig                 = &GateError{Kind: KindConfig}
	ErrMalformedAuthorization = &GateError{Kind: KindMalformedAuthorization}
	ErrRequirementsMismatch   = &GateError{Kind: KindRequirementsMismatch}
	ErrReplayDetected         = &GateError{Kind: KindReplayDetected}
	ErrFacilitatorUnavailable = &GateError{Kind: KindFacilitatorUnavailable}
	ErrSettlementFailed       = &GateError{Kind: KindSettlementFailed}
	ErrStoreUnavailable       = &GateError{Kind: KindStoreUnavailable}
)

// NewGateError creates a new GateError.
func NewGateError(kind ErrorKind, message string, cause error) *GateError {
	return &GateError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// configErrorf is shorthand for a KindConfig error with a formatted message.
func configErrorf(format string, args ...interface{}) *GateError {
	return NewGateError(KindConfig, fmt.Sprintf(format, args...), nil)
}

// KindOf extracts the kind from the first GateError in err's chain.
func KindOf(err error) ErrorKind {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
