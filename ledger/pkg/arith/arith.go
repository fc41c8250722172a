// Package arith implements overflow-checked arithmetic on token amounts and
// counters. Every helper fails with ErrArithmeticOverflow instead of wrapping.
package arith

import (
	"math"
	"math/bits"

	"github.com/malbeclabs/escrow/ledger/pkg/failure"
)

var ErrArithmeticOverflow = failure.New(failure.ClassArithmetic, "ArithmeticOverflow", "arithmetic overflow")

func AddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func SubU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmeticOverflow
	}
	return diff, nil
}

func MulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo, nil
}

// DivU64 fails on a zero divisor.
func DivU64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrArithmeticOverflow
	}
	return a / b, nil
}

func AddU32(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// AddI64 is used for timestamps plus durations.
func AddI64(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

func SubI64(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}
