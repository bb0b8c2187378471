package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Limits is the velocity-limit policy shared read-only by the engine and processor.
// A new Limits value means a new engine: state is never carried across a policy change.
type Limits struct {
	DailyLimit             decimal.Decimal
	WeeklyLimit            decimal.Decimal
	DailyLoadCount         int
	PrimeIDDailyLimit      decimal.Decimal
	PrimeIDDailyCount      int
	MondayMultiplier       int
	MinCustomerIDLength    int
	MinTransactionIDLength int
}

// ErrInvalidLimits is returned for a policy the engine cannot run with.
var ErrInvalidLimits = errors.New("invalid limits")

// Validate rejects negative money limits and non-positive counts or multipliers.
// The engine assumes a validated policy.
func (l Limits) Validate() error {
	money := []struct {
		name  string
		value decimal.Decimal
	}{
		{"daily_limit", l.DailyLimit},
		{"weekly_limit", l.WeeklyLimit},
		{"prime_id_daily_limit", l.PrimeIDDailyLimit},
	}
	for _, m := range money {
		if m.value.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidLimits, m.name)
		}
	}

	counts := []struct {
		name  string
		value int
	}{
		{"daily_load_count", l.DailyLoadCount},
		{"prime_id_daily_count", l.PrimeIDDailyCount},
		{"monday_multiplier", l.MondayMultiplier},
	}
	for _, c := range counts {
		if c.value < 1 {
			return fmt.Errorf("%w: %s must be at least 1", ErrInvalidLimits, c.name)
		}
	}

	if l.MinCustomerIDLength < 0 || l.MinTransactionIDLength < 0 {
		return fmt.Errorf("%w: minimum id lengths must not be negative", ErrInvalidLimits)
	}
	return nil
}

// DefaultLimits returns the standard policy.
func DefaultLimits() Limits {
	return Limits{
		DailyLimit:             decimal.RequireFromString("5000.00"),
		WeeklyLimit:            decimal.RequireFromString("20000.00"),
		DailyLoadCount:         3,
		PrimeIDDailyLimit:      decimal.RequireFromString("9999.00"),
		PrimeIDDailyCount:      1,
		MondayMultiplier:       2,
		MinCustomerIDLength:    3,
		MinTransactionIDLength: 3,
	}
}

// LimitsPayload is the wire and file form of Limits. Money values are decimal strings.
type LimitsPayload struct {
	DailyLimit             string `json:"daily_limit" yaml:"daily_limit"`
	WeeklyLimit            string `json:"weekly_limit" yaml:"weekly_limit"`
	DailyLoadCount         int    `json:"daily_load_count" yaml:"daily_load_count"`
	PrimeIDDailyLimit      string `json:"prime_id_daily_limit" yaml:"prime_id_daily_limit"`
	PrimeIDDailyCount      int    `json:"prime_id_daily_count" yaml:"prime_id_daily_count"`
	MondayMultiplier       int    `json:"monday_multiplier" yaml:"monday_multiplier"`
	MinCustomerIDLength    int    `json:"min_customer_id_length" yaml:"min_customer_id_length"`
	MinTransactionIDLength int    `json:"min_transaction_id_length" yaml:"min_transaction_id_length"`
}

// PayloadFromLimits renders limits with two fractional digits on money values.
func PayloadFromLimits(l Limits) LimitsPayload {
	return LimitsPayload{
		DailyLimit:             l.DailyLimit.StringFixed(2),
		WeeklyLimit:            l.WeeklyLimit.StringFixed(2),
		DailyLoadCount:         l.DailyLoadCount,
		PrimeIDDailyLimit:      l.PrimeIDDailyLimit.StringFixed(2),
		PrimeIDDailyCount:      l.PrimeIDDailyCount,
		MondayMultiplier:       l.MondayMultiplier,
		MinCustomerIDLength:    l.MinCustomerIDLength,
		MinTransactionIDLength: l.MinTransactionIDLength,
	}
}

// ToLimits parses the money fields. Empty money fields fall back to the defaults.
func (p LimitsPayload) ToLimits() (Limits, error) {
	def := DefaultLimits()
	out := Limits{
		DailyLoadCount:         p.DailyLoadCount,
		PrimeIDDailyCount:      p.PrimeIDDailyCount,
		MondayMultiplier:       p.MondayMultiplier,
		MinCustomerIDLength:    p.MinCustomerIDLength,
		MinTransactionIDLength: p.MinTransactionIDLength,
	}

	var err error
	if out.DailyLimit, err = parseMoney("daily_limit", p.DailyLimit, def.DailyLimit); err != nil {
		return Limits{}, err
	}
	if out.WeeklyLimit, err = parseMoney("weekly_limit", p.WeeklyLimit, def.WeeklyLimit); err != nil {
		return Limits{}, err
	}
	if out.PrimeIDDailyLimit, err = parseMoney("prime_id_daily_limit", p.PrimeIDDailyLimit, def.PrimeIDDailyLimit); err != nil {
		return Limits{}, err
	}
	return out, nil
}

func parseMoney(field, value string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return d, nil
}
