// Package rules provides the velocity-limit rule engine.
package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/loadguard/internal/calendar"
	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/prime"
)

// Input holds the parsed transaction data for rule evaluation.
// Amount is the effective amount, after the Monday multiplier.
type Input struct {
	CustomerID    string
	TransactionID string
	Time          time.Time
	Amount        decimal.Decimal
}

// Date returns the YYYY-MM-DD key of the transaction.
func (in Input) Date() string {
	return calendar.DateString(in.Time)
}

// Results maps rule name to its outcome.
type Results map[string]domain.RuleResult

// Accepted reports whether every business rule passed. Anomaly is not consulted.
func (r Results) Accepted() bool {
	for _, name := range domain.BusinessRules {
		res, ok := r[name]
		if !ok || !res.Passed {
			return false
		}
	}
	return true
}

// Stats reports how many customers each rule currently tracks.
type Stats struct {
	DailyLimitCustomers  int `json:"daily_limit_customers"`
	DailyCountCustomers  int `json:"daily_count_customers"`
	WeeklyLimitCustomers int `json:"weekly_limit_customers"`
	PrimeIDCustomers     int `json:"prime_id_transactions"`
	AnomalyCustomers     int `json:"anomaly_customers"`
}

// Engine owns the rule state for one adjudication session.
// It is not safe for concurrent use; callers serialize access.
type Engine struct {
	limits      domain.Limits
	dailyLimit  *DailyLimitRule
	dailyCount  *DailyCountRule
	weeklyLimit *WeeklyLimitRule
	primeID     *PrimeIDRule
	anomaly     *AnomalyRule
}

// NewEngine creates an engine with empty state.
func NewEngine(limits domain.Limits) *Engine {
	return &Engine{
		limits:      limits,
		dailyLimit:  NewDailyLimitRule(limits.DailyLimit),
		dailyCount:  NewDailyCountRule(limits.DailyLoadCount),
		weeklyLimit: NewWeeklyLimitRule(limits.WeeklyLimit),
		primeID:     NewPrimeIDRule(limits.PrimeIDDailyLimit, limits.PrimeIDDailyCount),
		anomaly:     NewAnomalyRule(limits.MinCustomerIDLength, limits.MinTransactionIDLength),
	}
}

// Limits returns the policy the engine was built with.
func (e *Engine) Limits() domain.Limits {
	return e.limits
}

// EvaluateAll evaluates every rule for the input. Prime ids are judged by the
// prime rule instead of the daily limit and count rules. The anomaly rule
// records the input before returning, whatever the outcome.
func (e *Engine) EvaluateAll(in Input) Results {
	var results Results

	if prime.IsPrime(in.TransactionID) {
		results = Results{
			domain.RuleDailyLimit:  domain.Pass(domain.ReasonPrimeID),
			domain.RuleDailyCount:  domain.Pass(domain.ReasonPrimeID),
			domain.RuleWeeklyLimit: e.weeklyLimit.Evaluate(in),
			domain.RulePrimeID:     e.primeID.Evaluate(in),
		}
	} else {
		results = Results{
			domain.RuleDailyLimit:  e.dailyLimit.Evaluate(in),
			domain.RuleDailyCount:  e.dailyCount.Evaluate(in),
			domain.RuleWeeklyLimit: e.weeklyLimit.Evaluate(in),
			domain.RulePrimeID:     domain.Pass(domain.ReasonNotPrimeID),
		}
	}

	results[domain.RuleAnomaly] = e.anomaly.Evaluate(in)
	e.anomaly.Record(in)

	return results
}

// RecordAccepted commits an accepted load to the business rules.
func (e *Engine) RecordAccepted(in Input) {
	e.dailyLimit.Record(in)
	e.dailyCount.Record(in)
	e.weeklyLimit.Record(in)
	e.primeID.Record(in)
}

// RecordSeen commits a load to the anomaly counters only. Used when replaying history.
func (e *Engine) RecordSeen(in Input) {
	e.anomaly.Record(in)
}

// Stats returns the current state sizes.
func (e *Engine) Stats() Stats {
	return Stats{
		DailyLimitCustomers:  e.dailyLimit.Customers(),
		DailyCountCustomers:  e.dailyCount.Customers(),
		WeeklyLimitCustomers: e.weeklyLimit.Customers(),
		PrimeIDCustomers:     e.primeID.Customers(),
		AnomalyCustomers:     e.anomaly.Customers(),
	}
}
