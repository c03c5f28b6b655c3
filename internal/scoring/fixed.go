package scoring

import (
	"math"
	"math/bits"

	"github.com/smallbiznis/karma/internal/apperror"
)

// micro is the fixed-point scale used for weights and averages.
const micro = 1_000_000

func checkedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, apperror.ErrArithmeticOverflow
	}
	return a + b, nil
}

func checkedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a < 0 || b < 0 {
		return 0, apperror.ErrArithmeticOverflow
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, apperror.ErrArithmeticOverflow
	}
	return int64(lo), nil
}

// mulDiv computes floor(a*b/c) for non-negative operands with a 128-bit
// intermediate product.
func mulDiv(a, b, c int64) (int64, error) {
	if a < 0 || b < 0 || c <= 0 {
		return 0, apperror.ErrArithmeticOverflow
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 0, apperror.ErrArithmeticOverflow
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return 0, apperror.ErrArithmeticOverflow
	}
	return int64(q), nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
