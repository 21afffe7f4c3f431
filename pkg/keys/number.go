package keys

import (
	"strconv"
	"strings"
)

// maxExponent bounds the decimal exponent a key may carry so that a literal such as
// 1e999999999 cannot expand into an enormous canonical string.
const maxExponent = 4096

// isNumberLiteral reports whether s is exactly a JSON number literal
func isNumberLiteral(s string) bool {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	if i >= len(s) {
		return false
	}

	switch {
	case s[i] == '0':
		i++
	case s[i] >= '1' && s[i] <= '9':
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	default:
		return false
	}

	if i < len(s) && s[i] == '.' {
		i++
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if i == start {
			return false
		}
	}

	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if i == start {
			return false
		}
	}

	return i == len(s)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// canonicalizeNumber rewrites a number literal as a plain decimal string with no exponent,
// no leading or trailing zeros and no negative zero.
func canonicalizeNumber(lit string) (KeyValue, error) {
	if !isNumberLiteral(lit) {
		return KeyValue{}, &CanonicalizeError{Got: "number", Reason: "malformed literal " + strconv.Quote(lit)}
	}

	negative := strings.HasPrefix(lit, "-")
	lit = strings.TrimPrefix(lit, "-")

	mantissa, exponent := lit, 0
	if idx := strings.IndexAny(lit, "eE"); idx >= 0 {
		mantissa = lit[:idx]
		exp, err := strconv.Atoi(lit[idx+1:])
		if err != nil || exp > maxExponent || exp < -maxExponent {
			return KeyValue{}, &CanonicalizeError{Got: "number", Reason: "exponent out of range"}
		}
		exponent = exp
	}

	intPart, fracPart := mantissa, ""
	if idx := strings.IndexByte(mantissa, '.'); idx >= 0 {
		intPart, fracPart = mantissa[:idx], mantissa[idx+1:]
	}

	digits := intPart + fracPart
	point := len(intPart) + exponent

	trimmed := strings.TrimLeft(digits, "0")
	point -= len(digits) - len(trimmed)
	digits = strings.TrimRight(trimmed, "0")

	if digits == "" {
		return integer("0"), nil
	}

	sign := ""
	if negative {
		sign = "-"
	}

	switch {
	case point >= len(digits):
		return integer(sign + digits + strings.Repeat("0", point-len(digits))), nil
	case point <= 0:
		return KeyValue{kind: KindDecimal, canonical: sign + "0." + strings.Repeat("0", -point) + digits}, nil
	default:
		return KeyValue{kind: KindDecimal, canonical: sign + digits[:point] + "." + digits[point:]}, nil
	}
}
