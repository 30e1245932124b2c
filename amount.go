package x402

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// MaxAmountScale is the maximum number of fractional digits accepted in a
// configured amount.
const MaxAmountScale = 18

var decimalPattern = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)$`)

// ParseAmount parses a decimal amount such as "0.001". A leading "$" is
// accepted ("$0.001").
func ParseAmount(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return nil, fmt.Errorf("invalid amount: empty")
	}
	if !decimalPattern.MatchString(s) {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > MaxAmountScale {
		return nil, fmt.Errorf("amount has %d decimal places, maximum is %d", len(s)-i-1, MaxAmountScale)
	}
	amount, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	return amount, nil
}

// ToMinorUnits converts a decimal amount to the integer atomic units of an
// asset with the given number of decimals. For example 0.001 with 6 decimals
// becomes 1000. Amounts that do not divide evenly into atomic units are
// rejected.
func ToMinorUnits(amount *big.Rat, decimals int) (*big.Int, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount is required")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("decimals cannot be negative")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(amount, new(big.Rat).SetInt(scale))
	if !scaled.IsInt() {
		return nil, fmt.Errorf("amount %s is finer than %d decimals", amount.FloatString(MaxAmountScale), decimals)
	}
	return new(big.Int).Set(scaled.Num()), nil
}

// FormatAmount renders an atomic-unit amount as a decimal string with the
// given number of decimals, trimming trailing zeros.
func FormatAmount(units *big.Int, decimals int) string {
	if units == nil {
		return "0"
	}
	rat := new(big.Rat).SetInt(units)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Quo(rat, new(big.Rat).SetInt(scale))

	s := rat.FloatString(decimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
