package domain

// ProcessingResult is the final verdict for one transaction, including its audit trail.
type ProcessingResult struct {
	ID              string                `json:"id"`
	CustomerID      string                `json:"customer_id"`
	Accepted        bool                  `json:"accepted"`
	OriginalAmount  string                `json:"original_amount"`
	EffectiveAmount string                `json:"effective_amount"`
	IsMonday        bool                  `json:"is_monday"`
	RulesEvaluated  map[string]RuleResult `json:"rules_evaluated"`
	Time            string                `json:"time"`
	Error           string                `json:"error,omitempty"`

	// Flags lists the watch expressions that matched. Informational only.
	Flags []string `json:"flags,omitempty"`
}

// Decision is the compact output line: one per processed transaction.
type Decision struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Accepted   bool   `json:"accepted"`
}

// Decision returns the compact form of the result.
func (r *ProcessingResult) Decision() Decision {
	return Decision{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		Accepted:   r.Accepted,
	}
}

// FailedRules returns the reasons of every rule that did not pass, including anomaly.
func (r *ProcessingResult) FailedRules() map[string]string {
	failed := make(map[string]string)
	for name, res := range r.RulesEvaluated {
		if !res.Passed {
			failed[name] = res.Reason
		}
	}
	return failed
}

// Status labels used in CSV output and dashboards.
const (
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// Status returns ACCEPTED or REJECTED.
func (r *ProcessingResult) Status() string {
	if r.Accepted {
		return StatusAccepted
	}
	return StatusRejected
}
