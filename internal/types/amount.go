package types

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// SOLDecimals is the number of lamport digits in one SOL.
const SOLDecimals = 9

var (
	ErrNegativeAmount   = errors.New("amount is negative")
	ErrFractionalAmount = errors.New("amount has more than 9 decimal places")
	ErrAmountOverflow   = errors.New("amount does not fit in lamports")
)

var maxLamports = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ParseSOL converts a decimal SOL string such as "0.0001" into lamports.
func ParseSOL(s string) (uint64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid SOL amount %q: %w", s, err)
	}
	return SOLToLamports(amount)
}

// SOLToLamports scales amount by 10^9. Fractions of a lamport are rejected.
func SOLToLamports(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	lamports := amount.Shift(SOLDecimals)
	if !lamports.IsInteger() {
		return 0, ErrFractionalAmount
	}
	if lamports.GreaterThan(maxLamports) {
		return 0, ErrAmountOverflow
	}
	return lamports.BigInt().Uint64(), nil
}

// LamportsToSOL converts lamports into SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -SOLDecimals)
}
