package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// Credit quantities cross the API as decimal strings with at most six
// fractional digits; internally everything is big-integer micro-units
// (1 credit = 1_000_000 micro). These helpers are the only place the two
// representations meet. No floats anywhere on this path.

var microPerUnit = big.NewInt(1_000_000)

// ParseQuantityMicro converts a decimal quantity string into micro-units.
// More than six fractional digits, signs, or empty input are rejected.
func ParseQuantityMicro(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 6 {
		return nil, fmt.Errorf("quantity %q exceeds 6 decimal places", s)
	}
	frac = frac + strings.Repeat("0", 6-len(frac))
	w, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	f, ok := new(big.Int).SetString(frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return new(big.Int).Add(new(big.Int).Mul(w, microPerUnit), f), nil
}

// FormatQuantityMicro renders micro-units as a decimal string with exactly
// six fractional digits.
func FormatQuantityMicro(micro *big.Int) string {
	q, r := new(big.Int).QuoRem(micro, microPerUnit, new(big.Int))
	neg := false
	if q.Sign() < 0 || r.Sign() < 0 {
		neg = true
		q.Abs(q)
		r.Abs(r)
	}
	s := fmt.Sprintf("%s.%06d", q.String(), r)
	if neg {
		s = "-" + s
	}
	return s
}

// CeilDiv returns ceil(a / b) for positive b.
func CeilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// MicroToCentsCeil converts micro-units of a USD-pegged denom to integer
// cents, rounding up so the fiat charge never undershoots the on-chain
// price. 1 cent = 10_000 micro.
func MicroToCentsCeil(micro *big.Int) int64 {
	return CeilDiv(micro, big.NewInt(10_000)).Int64()
}

// CentsToMicro converts integer cents to micro-units of a USD-pegged denom.
func CentsToMicro(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), big.NewInt(10_000))
}
