package report

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/loadguard/internal/domain"
)

// RecentLimit is the number of results listed as recent activity.
const RecentLimit = 10

// NoRule is reported as the most triggered rule when nothing failed.
const NoRule = "None"

// Activity is one entry of the recent activity feed.
type Activity struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// Trends counts stored results by run age.
type Trends struct {
	DailyVolume   int `json:"daily_volume"`
	WeeklyVolume  int `json:"weekly_volume"`
	MonthlyVolume int `json:"monthly_volume"`
}

// Dashboard aggregates persisted outputs for the dashboard view.
type Dashboard struct {
	TotalProcessed       int            `json:"total_processed_loads"`
	AcceptanceRate       float64        `json:"acceptance_rate"`
	RejectionRate        float64        `json:"anomaly_rate"`
	RuleViolations       int            `json:"rule_violations"`
	HighRiskCustomers    int            `json:"high_risk_customers"`
	MostTriggeredRule    string         `json:"most_triggered_rule"`
	CustomerDistribution map[string]int `json:"customer_distribution"`
	RecentActivity       []Activity     `json:"recent_activity"`
	Trends               Trends         `json:"processing_trends"`
}

// BuildDashboard aggregates history, which must be ordered oldest first as
// returned by Repository.ListResults. Volumes are measured back from now.
func BuildDashboard(history []*domain.StoredOutput, now time.Time) *Dashboard {
	d := &Dashboard{
		MostTriggeredRule:    NoRule,
		CustomerDistribution: make(map[string]int),
		RecentActivity:       []Activity{},
	}
	if len(history) == 0 {
		return d
	}

	rejections := make(map[string]int)
	ruleCounts := make(map[string]int)
	accepted := 0

	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	monthAgo := now.Add(-30 * 24 * time.Hour)

	for _, h := range history {
		r := &h.Result
		d.CustomerDistribution[r.CustomerID]++

		if r.Accepted {
			accepted++
		} else {
			rejections[r.CustomerID]++
			for name, res := range r.RulesEvaluated {
				if !res.Passed {
					ruleCounts[name]++
				}
			}
		}

		if !h.Timestamp.Before(dayAgo) {
			d.Trends.DailyVolume++
		}
		if !h.Timestamp.Before(weekAgo) {
			d.Trends.WeeklyVolume++
		}
		if !h.Timestamp.Before(monthAgo) {
			d.Trends.MonthlyVolume++
		}
	}

	d.TotalProcessed = len(history)
	d.RuleViolations = d.TotalProcessed - accepted
	d.AcceptanceRate = percent(accepted, d.TotalProcessed)
	d.RejectionRate = percent(d.RuleViolations, d.TotalProcessed)

	for _, n := range rejections {
		if n > 1 {
			d.HighRiskCustomers++
		}
	}

	d.MostTriggeredRule = mostTriggered(ruleCounts)

	for i := len(history) - 1; i >= 0 && len(d.RecentActivity) < RecentLimit; i-- {
		h := history[i]
		d.RecentActivity = append(d.RecentActivity, Activity{
			ID:         h.Result.ID,
			CustomerID: h.Result.CustomerID,
			Status:     h.Result.Status(),
			Amount:     h.Result.OriginalAmount,
			Timestamp:  h.Timestamp,
		})
	}

	return d
}

// mostTriggered returns the rule with the highest failure count. Ties go to
// the alphabetically first name.
func mostTriggered(counts map[string]int) string {
	if len(counts) == 0 {
		return NoRule
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if counts[name] > counts[best] {
			best = name
		}
	}
	return best
}

// percent returns part/total as a percentage rounded to two places.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
