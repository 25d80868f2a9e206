// Package fixedpoint converts scaled token integers to and from decimal
// strings. Arithmetic stays in math/big; strings exist only for display and
// for parsing user input.
package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	WETHDecimals    uint8 = 18
	TestUSDDecimals uint8 = 6
	PriceDecimals   uint8 = 6
)

// Pow10 returns 10^decimals.
func Pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Format renders value/10^decimals with trailing zeros trimmed, keeping at
// least one fractional digit ("1.0", "0.25", "-3.5").
func Format(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0.0"
	}
	if decimals == 0 {
		return value.String() + ".0"
	}
	text := scaledString(value, decimals, int(decimals))
	text = strings.TrimRight(text, "0")
	if strings.HasSuffix(text, ".") {
		text += "0"
	}
	return text
}

// FormatFixed renders value/10^decimals rounded half away from zero to
// exactly places fractional digits.
func FormatFixed(value *big.Int, decimals uint8, places int) string {
	if value == nil {
		value = new(big.Int)
	}
	if places < 0 {
		places = 0
	}
	return scaledString(value, decimals, places)
}

func scaledString(value *big.Int, decimals uint8, places int) string {
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	rat := new(big.Rat).SetFrac(abs, Pow10(decimals))
	text := rat.FloatString(places)
	if sign < 0 && strings.Trim(text, "0.") != "" {
		return "-" + text
	}
	return text
}

// Parse converts a decimal string into an integer scaled by 10^decimals.
// More fractional digits than decimals is an error, never a silent rounding.
func Parse(input string, decimals uint8) (*big.Int, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, fmt.Errorf("empty amount")
	}

	negative := false
	switch text[0] {
	case '-':
		negative = true
		text = text[1:]
	case '+':
		text = text[1:]
	}

	whole, frac, _ := strings.Cut(text, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount: %q", input)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("invalid amount: %q", input)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", input, decimals)
	}

	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", input)
	}
	if negative {
		value.Neg(value)
	}
	return value, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseInteger parses a stored base-10 integer amount.
func ParseInteger(input string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(input), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount: %q", input)
	}
	return v, nil
}

func FormatWETH(value *big.Int) string    { return Format(value, WETHDecimals) }
func FormatTestUSD(value *big.Int) string { return Format(value, TestUSDDecimals) }

func ParseWETH(input string) (*big.Int, error)    { return Parse(input, WETHDecimals) }
func ParseTestUSD(input string) (*big.Int, error) { return Parse(input, TestUSDDecimals) }

var usdPrinter = message.NewPrinter(language.English)

// FormatPrice renders a 6-decimal price as whole US dollars with grouping,
// for example 3500123456 -> "$3,500".
func FormatPrice(price *big.Int) string {
	if price == nil {
		return "$0"
	}
	rounded := FormatFixed(price, PriceDecimals, 0)
	whole, ok := new(big.Int).SetString(rounded, 10)
	if !ok || !whole.IsInt64() {
		return "$" + rounded
	}
	return usdPrinter.Sprintf("$%d", whole.Int64())
}
