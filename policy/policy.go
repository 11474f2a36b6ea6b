// Package policy prices liquidity requests and enforces channel size bounds.
// Everything here is pure: no state, no side effects, safe for concurrent use.
package policy

import (
	"errors"
	"fmt"
)

var (
	ErrPolicyViolation = errors.New("policy violation")
	ErrBelowMinimum    = fmt.Errorf("%w: channel size below minimum", ErrPolicyViolation)
	ErrAboveMaximum    = fmt.Errorf("%w: channel size above maximum", ErrPolicyViolation)
)

type Evaluator struct {
	MinChannelSizeMsat uint64
	MaxChannelSizeMsat uint64
	MinFeeMsat         uint64
	FeeRatePPK         uint64
}

func NewEvaluator(minChannelSizeMsat, maxChannelSizeMsat, minFeeMsat, feeRatePPK uint64) *Evaluator {
	return &Evaluator{
		MinChannelSizeMsat: minChannelSizeMsat,
		MaxChannelSizeMsat: maxChannelSizeMsat,
		MinFeeMsat:         minFeeMsat,
		FeeRatePPK:         feeRatePPK,
	}
}

// Price validates the requested channel size and returns the provisioning fee
// in msat: min_fee + ceil(amount * fee_rate_ppk / 1000). Integer arithmetic
// only; rounding is always up, in the provider's favor.
func (e *Evaluator) Price(requestedAmountMsat uint64) (uint64, error) {
	if requestedAmountMsat < e.MinChannelSizeMsat {
		return 0, fmt.Errorf("%w: %d < %d", ErrBelowMinimum, requestedAmountMsat, e.MinChannelSizeMsat)
	}
	if requestedAmountMsat > e.MaxChannelSizeMsat {
		return 0, fmt.Errorf("%w: %d > %d", ErrAboveMaximum, requestedAmountMsat, e.MaxChannelSizeMsat)
	}

	proportional := ceilDiv(requestedAmountMsat*e.FeeRatePPK, 1000)
	return e.MinFeeMsat + proportional, nil
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
