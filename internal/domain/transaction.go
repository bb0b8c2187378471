package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransaction is returned when a transaction fails field validation.
var ErrInvalidTransaction = errors.New("invalid transaction")

// Transaction is a fund load request as submitted by the customer.
// All fields are kept in their submitted string form; parsing happens in the processor.
type Transaction struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	LoadAmount string `json:"load_amount"` // e.g. "$1,234.56" or "USD$9.99"
	Time       string `json:"time"`        // ISO-8601 UTC, trailing 'Z'
}

// Validate checks the field invariants: numeric identifiers and a UTC designator.
func (t *Transaction) Validate() error {
	if !isDigits(t.ID) {
		return fmt.Errorf("%w: transaction id %q must be a non-empty digit string", ErrInvalidTransaction, t.ID)
	}
	if !isDigits(t.CustomerID) {
		return fmt.Errorf("%w: customer id %q must be a non-empty digit string", ErrInvalidTransaction, t.CustomerID)
	}
	if !strings.HasSuffix(t.Time, "Z") {
		return fmt.Errorf("%w: timestamp %q must be UTC ending in 'Z'", ErrInvalidTransaction, t.Time)
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
