// Package amount parses and formats currency strings as exact decimals.
package amount

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedAmount is returned when a load amount cannot be parsed.
var ErrMalformedAmount = errors.New("malformed amount")

// Places is the number of fractional digits every amount is truncated to.
const Places = 2

var pattern = regexp.MustCompile(`^\d+\.?\d*$`)

var stripper = strings.NewReplacer(",", "", "$", "", "USD", "")

// Parse converts a string such as "$1,234.56" or "USD$9.99" into a decimal
// truncated to two fractional digits. Signs, exponents and surrounding
// whitespace are rejected.
func Parse(raw string) (decimal.Decimal, error) {
	cleaned := stripper.Replace(raw)
	if !pattern.MatchString(cleaned) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}

	d, err := decimal.NewFromString(strings.TrimSuffix(cleaned, "."))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrMalformedAmount, raw, err)
	}
	return d.Truncate(Places), nil
}

// Format renders an amount with exactly two fractional digits. The "$" marker
// is kept only when the original input started with one.
func Format(d decimal.Decimal, original string) string {
	s := d.StringFixed(Places)
	if strings.HasPrefix(original, "$") {
		return "$" + s
	}
	return s
}
