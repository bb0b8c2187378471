// Package velocity rebuilds and reports customer load velocity from persisted outputs.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/loadguard/internal/amount"
	"github.com/opensource-finance/loadguard/internal/calendar"
	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/session"
)

// ErrNoRepository is returned when the service has no data source.
var ErrNoRepository = errors.New("no repository configured")

// Service reads adjudication history from the repository.
type Service struct {
	repo domain.Repository
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Restore replays every persisted result into the session in adjudication
// order and returns the number of results replayed.
func (s *Service) Restore(ctx context.Context, sess *session.Session) (int, error) {
	history, err := s.history(ctx)
	if err != nil {
		return 0, err
	}

	results := make([]domain.ProcessingResult, len(history))
	for i, h := range history {
		results[i] = h.Result
	}

	start := time.Now()
	n := sess.Restore(results)

	slog.Info("velocity state restored",
		"stored", len(results),
		"replayed", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return n, nil
}

// Velocity is a customer's accepted load activity around one date.
// Amounts are effective amounts, so Monday loads count at their multiplied value.
type Velocity struct {
	CustomerID  string `json:"customer_id"`
	Date        string `json:"date"`
	DailyTotal  string `json:"daily_total"`
	DailyCount  int    `json:"daily_count"`
	WeeklyTotal string `json:"weekly_total"`
	WeeklyCount int    `json:"weekly_count"`
}

// CustomerVelocity sums the customer's accepted loads on date and over the
// rolling week ending on date.
func (s *Service) CustomerVelocity(ctx context.Context, customerID string, date time.Time) (*Velocity, error) {
	if customerID == "" {
		return nil, fmt.Errorf("customer id is required")
	}

	history, err := s.history(ctx)
	if err != nil {
		return nil, err
	}

	week := make(map[string]bool, calendar.WindowDays)
	for _, d := range calendar.RollingWeek(date) {
		week[d] = true
	}
	day := calendar.DateString(date)

	dailyTotal, weeklyTotal := decimal.Zero, decimal.Zero
	v := &Velocity{CustomerID: customerID, Date: day}

	for _, h := range history {
		r := h.Result
		if r.CustomerID != customerID || !r.Accepted || r.Error != "" {
			continue
		}
		ts, err := calendar.ParseTimestamp(r.Time)
		if err != nil {
			continue
		}
		d := calendar.DateString(ts)
		if !week[d] {
			continue
		}
		amt, err := amount.Parse(r.EffectiveAmount)
		if err != nil {
			continue
		}

		weeklyTotal = weeklyTotal.Add(amt)
		v.WeeklyCount++
		if d == day {
			dailyTotal = dailyTotal.Add(amt)
			v.DailyCount++
		}
	}

	v.DailyTotal = dailyTotal.StringFixed(2)
	v.WeeklyTotal = weeklyTotal.StringFixed(2)
	return v, nil
}

func (s *Service) history(ctx context.Context) ([]*domain.StoredOutput, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	history, err := s.repo.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}
