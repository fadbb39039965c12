package blockchain

import (
	"fmt"
	"math/big"
	"strings"
)

// NativeDecimals is the number of decimals of the chain's native currency.
const NativeDecimals = 18

func pow10(decimals int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// FormatAmount renders base units as a decimal string without trailing zeros.
func FormatAmount(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}

	r := new(big.Rat).SetFrac(v, pow10(decimals))
	s := r.FloatString(decimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// ParseAmount converts a decimal string such as "0.25" into base units.
// The amount must be positive and have at most decimals fractional digits.
func ParseAmount(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !isDecimal(s) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	r.Mul(r, new(big.Rat).SetInt(pow10(decimals)))
	if !r.IsInt() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, decimals)
	}

	return new(big.Int).Set(r.Num()), nil
}

// isDecimal reports whether s is plain digits with at most one decimal point
func isDecimal(s string) bool {
	digits, dots := 0, 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}
