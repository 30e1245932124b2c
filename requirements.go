package x402

import (
	"context"
	"math/big"
	"strings"

	"go.uber.org/zap"
)

// buildRequirements prices the resource and assembles the terms offered to
// the client.
func (e *evaluation) buildRequirements(ctx context.Context) (*PaymentRequirements, error) {
	static, err := e.cfg.StaticAmount()
	if err != nil {
		return nil, err
	}
	units, err := ToMinorUnits(static, e.cfg.decimals())
	if err != nil {
		return nil, NewGateError(KindConfig, "invalid amount", err)
	}

	if e.prices != nil {
		if override := e.resolvePrice(ctx, static); override != nil {
			units = override
		}
	}

	resource := e.cfg.ResourcePath
	if resource == "" {
		resource = e.req.fullURL()
	}
	mimeType := e.req.mimeType()

	return NewPaymentRequirements(&e.cfg, units, resource, mimeType), nil
}

// resolvePrice consults the price store. Any failure degrades to the static
// price, reported as nil.
func (e *evaluation) resolvePrice(ctx context.Context, static *big.Rat) *big.Int {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	amount, err := e.prices.Resolve(ctx, e.resourceKey, static)
	if err != nil {
		e.gate.metrics.RecordStoreError("price", "get")
		e.log.Warn("price store unavailable, using static price",
			zap.String("resource", e.resourceKey), zap.Error(err))
	}
	if amount == nil || amount.Cmp(static) == 0 {
		return nil
	}

	units, err := ToMinorUnits(amount, e.cfg.decimals())
	if err != nil || units.Sign() <= 0 {
		e.gate.metrics.RecordStoreError("price", "parse")
		e.log.Warn("ignoring unusable price override",
			zap.String("resource", e.resourceKey),
			zap.String("amount", amount.FloatString(MaxAmountScale)),
			zap.Error(err))
		return nil
	}
	return units
}

// NewPaymentRequirements builds the requirements for a resource priced at
// units atomic units. cfg must have defaults applied.
func NewPaymentRequirements(cfg *GateConfig, units *big.Int, resource, mimeType string) *PaymentRequirements {
	amount := units.String()
	ttl := int(cfg.TTL.Seconds())
	if ttl <= 0 {
		ttl = int(DefaultTTL.Seconds())
	}
	if mimeType == "" {
		mimeType = "application/json"
	}
	return &PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           cfg.network(),
		Amount:            amount,
		MaxAmountRequired: amount,
		Resource:          resource,
		Description:       cfg.Description,
		MimeType:          mimeType,
		PayTo:             strings.TrimSpace(cfg.PayTo),
		MaxTimeoutSeconds: ttl,
		Asset:             cfg.Asset,
		Extra:             assetExtra(cfg.Asset),
		required:          new(big.Int).Set(units),
	}
}
