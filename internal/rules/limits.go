package rules

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/loadguard/internal/calendar"
	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/prime"
)

// dayKey indexes per-customer, per-day state.
type dayKey struct {
	customer string
	date     string
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// DailyLimitRule caps the accepted load total per customer per day.
type DailyLimitRule struct {
	limit  decimal.Decimal
	totals map[dayKey]decimal.Decimal
}

// NewDailyLimitRule creates a daily limit rule.
func NewDailyLimitRule(limit decimal.Decimal) *DailyLimitRule {
	return &DailyLimitRule{
		limit:  limit,
		totals: make(map[dayKey]decimal.Decimal),
	}
}

// Evaluate fails when the day's total plus the amount strictly exceeds the limit.
func (r *DailyLimitRule) Evaluate(in Input) domain.RuleResult {
	current := r.totals[dayKey{in.CustomerID, in.Date()}]

	if current.Add(in.Amount).GreaterThan(r.limit) {
		return domain.RuleResult{
			Passed: false,
			Reason: domain.ReasonDailyLimitExceeded,
			Details: map[string]any{
				"current_daily_total": money(current),
				"attempted":           money(in.Amount),
				"limit":               money(r.limit),
			},
		}
	}

	return domain.RuleResult{
		Passed: true,
		Details: map[string]any{
			"current_daily_total": money(current),
			"attempted":           money(in.Amount),
		},
	}
}

// Record adds an accepted load to the day's total.
func (r *DailyLimitRule) Record(in Input) {
	key := dayKey{in.CustomerID, in.Date()}
	r.totals[key] = r.totals[key].Add(in.Amount)
}

// Customers returns how many customers have recorded totals.
func (r *DailyLimitRule) Customers() int {
	return countCustomers(r.totals)
}

// DailyCountRule caps the number of accepted loads per customer per day.
type DailyCountRule struct {
	limit  int
	counts map[dayKey]int
}

// NewDailyCountRule creates a daily count rule.
func NewDailyCountRule(limit int) *DailyCountRule {
	return &DailyCountRule{
		limit:  limit,
		counts: make(map[dayKey]int),
	}
}

// Evaluate fails when the customer already reached the limit for the day.
func (r *DailyCountRule) Evaluate(in Input) domain.RuleResult {
	current := r.counts[dayKey{in.CustomerID, in.Date()}]

	if current >= r.limit {
		return domain.RuleResult{
			Passed: false,
			Reason: domain.ReasonDailyCountExceeded,
			Details: map[string]any{
				"current_daily_count": current,
				"limit":               r.limit,
			},
		}
	}

	return domain.RuleResult{
		Passed:  true,
		Details: map[string]any{"current_daily_count": current},
	}
}

// Record counts an accepted load.
func (r *DailyCountRule) Record(in Input) {
	r.counts[dayKey{in.CustomerID, in.Date()}]++
}

// Customers returns how many customers have recorded counts.
func (r *DailyCountRule) Customers() int {
	return countCustomers(r.counts)
}

type weeklyEntry struct {
	date   string
	amount decimal.Decimal
}

// WeeklyLimitRule caps the accepted load total per customer over a rolling 7-day window.
// Each customer's log is appended in evaluation order and only ever pruned from the front.
type WeeklyLimitRule struct {
	limit decimal.Decimal
	logs  map[string][]weeklyEntry
}

// NewWeeklyLimitRule creates a weekly limit rule.
func NewWeeklyLimitRule(limit decimal.Decimal) *WeeklyLimitRule {
	return &WeeklyLimitRule{
		limit: limit,
		logs:  make(map[string][]weeklyEntry),
	}
}

// Evaluate drops entries that left the window, then compares the in-window sum plus the amount to the limit.
func (r *WeeklyLimitRule) Evaluate(in Input) domain.RuleResult {
	week := make(map[string]struct{}, calendar.WindowDays)
	for _, d := range calendar.RollingWeek(in.Time) {
		week[d] = struct{}{}
	}

	entries := r.logs[in.CustomerID]
	for len(entries) > 0 {
		if _, ok := week[entries[0].date]; ok {
			break
		}
		entries = entries[1:]
	}
	if len(entries) > 0 {
		r.logs[in.CustomerID] = entries
	} else {
		delete(r.logs, in.CustomerID)
	}

	current := decimal.Zero
	for _, e := range entries {
		if _, ok := week[e.date]; ok {
			current = current.Add(e.amount)
		}
	}

	if current.Add(in.Amount).GreaterThan(r.limit) {
		return domain.RuleResult{
			Passed: false,
			Reason: domain.ReasonWeeklyLimitExceeded,
			Details: map[string]any{
				"rolling_7d_total": money(current),
				"attempted":        money(in.Amount),
				"limit":            money(r.limit),
			},
		}
	}

	return domain.RuleResult{
		Passed: true,
		Details: map[string]any{
			"rolling_7d_total": money(current),
			"attempted":        money(in.Amount),
		},
	}
}

// Record appends an accepted load to the customer's log.
func (r *WeeklyLimitRule) Record(in Input) {
	r.logs[in.CustomerID] = append(r.logs[in.CustomerID], weeklyEntry{date: in.Date(), amount: in.Amount})
}

// Customers returns how many customers have a non-empty log.
func (r *WeeklyLimitRule) Customers() int {
	return len(r.logs)
}

// PrimeIDRule applies the per-day count and amount caps for loads with a prime transaction id.
type PrimeIDRule struct {
	limit  decimal.Decimal
	count  int
	totals map[dayKey]decimal.Decimal
	counts map[dayKey]int
}

// NewPrimeIDRule creates a prime id rule.
func NewPrimeIDRule(limit decimal.Decimal, count int) *PrimeIDRule {
	return &PrimeIDRule{
		limit:  limit,
		count:  count,
		totals: make(map[dayKey]decimal.Decimal),
		counts: make(map[dayKey]int),
	}
}

// Evaluate checks the prime-id count first, then the prime-id amount.
func (r *PrimeIDRule) Evaluate(in Input) domain.RuleResult {
	key := dayKey{in.CustomerID, in.Date()}

	currentCount := r.counts[key]
	if currentCount >= r.count {
		return domain.RuleResult{
			Passed: false,
			Reason: domain.ReasonPrimeIDDailyCountExceeded,
			Details: map[string]any{
				"prime_id_daily_count": currentCount,
				"limit":                r.count,
			},
		}
	}

	currentTotal := r.totals[key]
	if currentTotal.Add(in.Amount).GreaterThan(r.limit) {
		return domain.RuleResult{
			Passed: false,
			Reason: domain.ReasonPrimeIDDailyLimitExceeded,
			Details: map[string]any{
				"prime_id_daily_total": money(currentTotal),
				"attempted":            money(in.Amount),
				"limit":                money(r.limit),
			},
		}
	}

	return domain.RuleResult{
		Passed: true,
		Reason: domain.ReasonPrimeIDApproved,
		Details: map[string]any{
			"prime_id_daily_count": currentCount,
			"prime_id_daily_total": money(currentTotal),
			"attempted":            money(in.Amount),
		},
	}
}

// Record counts an accepted load. Non-prime ids are ignored.
func (r *PrimeIDRule) Record(in Input) {
	if !prime.IsPrime(in.TransactionID) {
		return
	}
	key := dayKey{in.CustomerID, in.Date()}
	r.totals[key] = r.totals[key].Add(in.Amount)
	r.counts[key]++
}

// Customers returns how many customers have recorded prime-id loads.
func (r *PrimeIDRule) Customers() int {
	return countCustomers(r.counts)
}

// AnomalyThreshold is the number of prior loads after which a customer is flagged.
const AnomalyThreshold = 10

// AnomalyRule flags suspicious identifiers and repetition. It never affects acceptance.
type AnomalyRule struct {
	minCustomerID    int
	minTransactionID int
	customers        map[string]int
	transactions     map[string]int
}

// NewAnomalyRule creates an anomaly rule.
func NewAnomalyRule(minCustomerID, minTransactionID int) *AnomalyRule {
	return &AnomalyRule{
		minCustomerID:    minCustomerID,
		minTransactionID: minTransactionID,
		customers:        make(map[string]int),
		transactions:     make(map[string]int),
	}
}

// Evaluate returns the first anomaly found, checking id lengths, customer volume and duplicate ids in that order.
func (r *AnomalyRule) Evaluate(in Input) domain.RuleResult {
	if len(in.CustomerID) < r.minCustomerID {
		return domain.RuleResult{
			Passed: false,
			Reason: domain.ReasonCustomerIDTooShort,
			Details: map[string]any{
				"customer_id_length": len(in.CustomerID),
				"minimum_length":     r.minCustomerID,
			},
		}
	}

	if len(in.TransactionID) < r.minTransactionID {
		return domain.RuleResult{
			Passed: false,
			Reason: domain.ReasonTransactionIDTooShort,
			Details: map[string]any{
				"transaction_id_length": len(in.TransactionID),
				"minimum_length":        r.minTransactionID,
			},
		}
	}

	customerCount := r.customers[in.CustomerID]
	txCount := r.transactions[in.TransactionID]

	if customerCount > AnomalyThreshold {
		return domain.RuleResult{
			Passed: false,
			Reason: domain.ReasonCustomerAnomalyDetected,
			Details: map[string]any{
				"customer_transaction_count": customerCount,
				"threshold":                  AnomalyThreshold,
			},
		}
	}

	if txCount > 0 {
		return domain.RuleResult{
			Passed:  false,
			Reason:  domain.ReasonDuplicateTransactionID,
			Details: map[string]any{"transaction_id_count": txCount},
		}
	}

	return domain.RuleResult{
		Passed: true,
		Reason: domain.ReasonNoAnomalyDetected,
		Details: map[string]any{
			"customer_transaction_count": customerCount,
			"transaction_id_count":       txCount,
		},
	}
}

// Record counts an occurrence of the customer and the transaction id.
func (r *AnomalyRule) Record(in Input) {
	r.customers[in.CustomerID]++
	r.transactions[in.TransactionID]++
}

// Customers returns how many customers have been seen.
func (r *AnomalyRule) Customers() int {
	return len(r.customers)
}

func countCustomers[V any](m map[dayKey]V) int {
	seen := make(map[string]struct{})
	for k := range m {
		seen[k.customer] = struct{}{}
	}
	return len(seen)
}
