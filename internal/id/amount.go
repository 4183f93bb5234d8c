package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/relay/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseAmount accepts either a base-unit integer or a decimal amount scaled by
// decimals, never both. The result is strictly positive.
func ParseAmount(baseUnits, decimal string, decimals int) (*big.Int, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimal = strings.TrimSpace(decimal)
	if baseUnits != "" && decimal != "" {
		return nil, clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	var amount *big.Int
	if baseUnits != "" {
		if strings.HasPrefix(baseUnits, "-") {
			return nil, clierr.New(clierr.CodeUsage, "--amount must be non-negative")
		}
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok {
			return nil, clierr.New(clierr.CodeUsage, "--amount must be a positive integer string")
		}
		amount = n
	} else {
		if !decimalPattern.MatchString(decimal) {
			return nil, clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
		}
		n, err := decimalToBaseUnits(decimal, decimals)
		if err != nil {
			return nil, err
		}
		amount = n
	}
	if amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}
	return amount, nil
}

// FormatDecimal renders a base-unit amount as a decimal string.
func FormatDecimal(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	s := amount.String()
	if decimals <= 0 {
		return s
	}
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out = intPart + "." + fracPart
	}
	if negative {
		out = "-" + out
	}
	return out
}

func decimalToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}

	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return n, nil
}
