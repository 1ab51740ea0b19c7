package feepolicy

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"

	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10_000

var (
	// ErrAmountOverflow is returned when an amount does not fit the u128
	// range NEP-141 balances are expressed in. The split fails closed
	// instead of wrapping.
	ErrAmountOverflow = errors.New("amount exceeds u128 range")

	// ErrInvalidFeeConfig is returned for a fee config that could never
	// have been accepted at binding creation.
	ErrInvalidFeeConfig = errors.New("invalid fee config")
)

// maxAmount is 2^128 - 1, the largest representable NEP-141 balance.
var maxAmount = sdkmath.NewUintFromBigInt(new(big.Int).Sub(
	new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1),
))

// Split is the result of applying a fee config to an amount.
// Invariant: Fee + Net == the input amount, with Fee <= amount.
type Split struct {
	Fee sdkmath.Uint
	Net sdkmath.Uint
}

// ValidateConfig checks a fee config for internal consistency.
// Rate must be at most 10000 bps and, when both bounds are set,
// the floor must not exceed the cap.
func ValidateConfig(cfg models.FeeConfig) error {
	if cfg.RateBps > BpsDenominator {
		return fmt.Errorf("%w: rate %d bps exceeds %d", ErrInvalidFeeConfig, cfg.RateBps, BpsDenominator)
	}
	min, max := cfg.MinFee, cfg.MaxFee
	if isSet(min) && min.GT(maxAmount) {
		return fmt.Errorf("%w: min fee exceeds u128 range", ErrInvalidFeeConfig)
	}
	if isSet(max) && max.GT(maxAmount) {
		return fmt.Errorf("%w: max fee exceeds u128 range", ErrInvalidFeeConfig)
	}
	if isSet(min) && isSet(max) && min.GT(max) {
		return fmt.Errorf("%w: min fee %s exceeds max fee %s", ErrInvalidFeeConfig, min, max)
	}
	return nil
}

// ComputeSplit computes the fee and net amounts for forwarding `amount`
// under `cfg`. Pure and deterministic: identical inputs always produce
// identical splits.
//
// fee = clamp(amount * rate / 10000, cfg.MinFee, cfg.MaxFee), never more
// than the amount itself; net = amount - fee.
func ComputeSplit(amount sdkmath.Uint, cfg models.FeeConfig) (Split, error) {
	if err := ValidateConfig(cfg); err != nil {
		return Split{}, err
	}
	if amount.IsNil() || amount.IsZero() {
		return Split{Fee: sdkmath.ZeroUint(), Net: sdkmath.ZeroUint()}, nil
	}
	if amount.GT(maxAmount) {
		return Split{}, ErrAmountOverflow
	}

	// amount <= 2^128-1 and rate <= 10^4, so the intermediate product
	// stays far below the 256-bit ceiling of Uint.
	fee := amount.Mul(sdkmath.NewUint(uint64(cfg.RateBps))).Quo(sdkmath.NewUint(BpsDenominator))

	if isSet(cfg.MinFee) && fee.LT(cfg.MinFee) {
		fee = cfg.MinFee
	}
	if isSet(cfg.MaxFee) && fee.GT(cfg.MaxFee) {
		fee = cfg.MaxFee
	}
	// The floor may push the fee past small balances; the fee can never
	// exceed what is actually held.
	if fee.GT(amount) {
		fee = amount
	}

	return Split{Fee: fee, Net: amount.Sub(fee)}, nil
}

func isSet(u sdkmath.Uint) bool {
	return !u.IsNil() && !u.IsZero()
}
