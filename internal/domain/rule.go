package domain

// RuleResult is the output of a single rule evaluation. All three keys are
// always written so audit records share one shape.
type RuleResult struct {
	Passed  bool           `json:"passed"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details"`
}

// Rule names, used as keys of ProcessingResult.RulesEvaluated.
const (
	RuleDailyLimit  = "daily_limit"
	RuleDailyCount  = "daily_count"
	RuleWeeklyLimit = "weekly_limit"
	RulePrimeID     = "prime_id"
	RuleAnomaly     = "anomaly"
)

// BusinessRules are the rules that decide acceptance. Anomaly is audit-only.
var BusinessRules = []string{
	RuleDailyLimit,
	RuleDailyCount,
	RuleWeeklyLimit,
	RulePrimeID,
}

// Reason codes
const (
	ReasonDailyLimitExceeded        = "DAILY_LIMIT_EXCEEDED"
	ReasonDailyCountExceeded        = "DAILY_COUNT_EXCEEDED"
	ReasonWeeklyLimitExceeded       = "WEEKLY_LIMIT_EXCEEDED"
	ReasonPrimeIDDailyCountExceeded = "PRIME_ID_DAILY_COUNT_EXCEEDED"
	ReasonPrimeIDDailyLimitExceeded = "PRIME_ID_DAILY_LIMIT_EXCEEDED"
	ReasonPrimeIDApproved           = "PRIME_ID_APPROVED"
	ReasonPrimeID                   = "PRIME_ID"
	ReasonNotPrimeID                = "NOT_PRIME_ID"

	ReasonCustomerIDTooShort      = "CUSTOMER_ID_TOO_SHORT"
	ReasonTransactionIDTooShort   = "TRANSACTION_ID_TOO_SHORT"
	ReasonCustomerAnomalyDetected = "CUSTOMER_ANOMALY_DETECTED"
	ReasonDuplicateTransactionID  = "DUPLICATE_TRANSACTION_ID"
	ReasonNoAnomalyDetected       = "NO_ANOMALY_DETECTED"
)

// Pass returns a passing result with the given reason and no details.
func Pass(reason string) RuleResult {
	return RuleResult{Passed: true, Reason: reason}
}
