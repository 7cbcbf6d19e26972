package x402

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Money conversion is pure decimal string manipulation. Binary floats
// never touch an amount: "$4.02" at 6 decimals must produce exactly
// "4020000".

// DecimalToUnits converts a non-negative decimal string such as "4.02"
// to atomic units at the given number of decimals. More fractional
// digits than decimals is an error, not a rounding.
func DecimalToUnits(value string, decimals int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", NewError(ErrInvalidPayload, "empty amount")
	}
	if strings.HasPrefix(value, "-") {
		return "", NewError(ErrInvalidPayload, "negative amount %q", value)
	}
	if decimals < 0 {
		return "", NewError(ErrInvalidPayload, "negative decimals %d", decimals)
	}

	intPart, fracPart, _ := strings.Cut(value, ".")
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return "", NewError(ErrInvalidPayload, "malformed amount %q", value)
	}
	if len(fracPart) > decimals {
		trimmed := strings.TrimRight(fracPart, "0")
		if len(trimmed) > decimals {
			return "", NewError(ErrInvalidPayload, "amount %q exceeds %d decimal places", value, decimals)
		}
		fracPart = trimmed
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))

	units := strings.TrimLeft(intPart+fracPart, "0")
	if units == "" {
		units = "0"
	}
	return units, nil
}

// UnitsToDecimal renders atomic units as a decimal string for display,
// e.g. ("4020000", 6) -> "4.02".
func UnitsToDecimal(units string, decimals int) (string, error) {
	units = strings.TrimSpace(units)
	if units == "" || !isDigits(units) {
		return "", NewError(ErrInvalidPayload, "malformed units %q", units)
	}
	units = strings.TrimLeft(units, "0")
	if units == "" {
		return "0", nil
	}
	if decimals == 0 {
		return units, nil
	}
	if len(units) <= decimals {
		units = strings.Repeat("0", decimals-len(units)+1) + units
	}
	intPart := units[:len(units)-decimals]
	fracPart := strings.TrimRight(units[len(units)-decimals:], "0")
	if fracPart == "" {
		return intPart, nil
	}
	return intPart + "." + fracPart, nil
}

// ValidUnits reports whether s is a canonical non-negative integer
// amount: digits only, no leading zeros except "0" itself.
func ValidUnits(s string) bool {
	if s == "" || !isDigits(s) {
		return false
	}
	return s == "0" || s[0] != '0'
}

// CompareUnits orders two canonical unit strings without overflow.
func CompareUnits(a, b string) (int, error) {
	ai, ok := new(big.Int).SetString(a, 10)
	if !ok {
		return 0, NewError(ErrInvalidPayload, "malformed units %q", a)
	}
	bi, ok := new(big.Int).SetString(b, 10)
	if !ok {
		return 0, NewError(ErrInvalidPayload, "malformed units %q", b)
	}
	return ai.Cmp(bi), nil
}

// NormalizePrice reduces the accepted price forms to either a decimal
// string (usd true, dollar-denominated) or an AssetAmount. Scheme
// servers call this before applying their asset's decimals.
func NormalizePrice(price Price) (decimal string, amount *AssetAmount, err error) {
	switch p := price.(type) {
	case string:
		s := strings.TrimSpace(p)
		s = strings.TrimSuffix(s, " USDC")
		s = strings.TrimSuffix(s, " USD")
		s = strings.TrimPrefix(s, "$")
		s = strings.TrimSpace(s)
		if s == "" {
			return "", nil, NewError(ErrInvalidPayload, "empty price")
		}
		return s, nil, nil
	case int:
		if p < 0 {
			return "", nil, NewError(ErrInvalidPayload, "negative price %d", p)
		}
		return strconv.Itoa(p), nil, nil
	case int64:
		if p < 0 {
			return "", nil, NewError(ErrInvalidPayload, "negative price %d", p)
		}
		return strconv.FormatInt(p, 10), nil, nil
	case float64:
		if p < 0 {
			return "", nil, NewError(ErrInvalidPayload, "negative price %v", p)
		}
		// -1 precision round-trips the shortest representation, so a
		// config literal like 0.10 arrives as "0.1" and stays exact
		// from here on.
		return strconv.FormatFloat(p, 'f', -1, 64), nil, nil
	case AssetAmount:
		if !ValidUnits(p.Amount) {
			return "", nil, NewError(ErrInvalidPayload, "malformed asset amount %q", p.Amount)
		}
		cp := p
		return "", &cp, nil
	case *AssetAmount:
		if p == nil {
			return "", nil, NewError(ErrInvalidPayload, "nil price")
		}
		return NormalizePrice(*p)
	case nil:
		return "", nil, NewError(ErrInvalidPayload, "nil price")
	default:
		return "", nil, NewError(ErrInvalidPayload, "unsupported price type %T", price)
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// FormatUSD renders a dollar decimal for diagnostics, e.g. "4.02"
// becomes "$4.02".
func FormatUSD(decimal string) string {
	return fmt.Sprintf("$%s", decimal)
}
