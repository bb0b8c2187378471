// Package processor adjudicates fund loads: it parses each transaction, runs
// the rule engine on the effective amount and commits accepted loads.
package processor

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/loadguard/internal/amount"
	"github.com/opensource-finance/loadguard/internal/calendar"
	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/rules"
)

// ApplyMondayMultiplier multiplies the amount by factor when t falls on a Monday.
func ApplyMondayMultiplier(t time.Time, amt decimal.Decimal, factor int) (decimal.Decimal, bool) {
	if !calendar.IsMonday(t) {
		return amt, false
	}
	return amt.Mul(decimal.NewFromInt(int64(factor))), true
}

// Processor owns one rule engine and feeds it transactions in order.
// It is not safe for concurrent use.
type Processor struct {
	limits  domain.Limits
	engine  *rules.Engine
	watches *rules.WatchSet
}

// Option configures a Processor.
type Option func(*Processor)

// WithWatches attaches audit-only watch expressions.
func WithWatches(ws *rules.WatchSet) Option {
	return func(p *Processor) {
		p.watches = ws
	}
}

// New creates a processor with a fresh engine.
func New(limits domain.Limits, opts ...Option) *Processor {
	p := &Processor{
		limits: limits,
		engine: rules.NewEngine(limits),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Limits returns the policy in effect.
func (p *Processor) Limits() domain.Limits {
	return p.limits
}

// Process adjudicates a single transaction. It never returns an error: any
// failure is reported through the result's Error field with Accepted=false.
func (p *Processor) Process(tx domain.Transaction) (result domain.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing load", "tx_id", tx.ID, "panic", r)
			result = failed(tx, fmt.Errorf("internal error: %v", r))
		}
	}()

	res, err := p.process(tx)
	if err != nil {
		slog.Debug("load failed validation", "tx_id", tx.ID, "customer_id", tx.CustomerID, "error", err)
		return failed(tx, err)
	}
	return res
}

func (p *Processor) process(tx domain.Transaction) (domain.ProcessingResult, error) {
	if err := tx.Validate(); err != nil {
		return domain.ProcessingResult{}, err
	}

	amt, err := amount.Parse(tx.LoadAmount)
	if err != nil {
		return domain.ProcessingResult{}, err
	}

	ts, err := calendar.ParseTimestamp(tx.Time)
	if err != nil {
		return domain.ProcessingResult{}, err
	}

	effective, isMonday := ApplyMondayMultiplier(ts, amt, p.limits.MondayMultiplier)

	in := rules.Input{
		CustomerID:    tx.CustomerID,
		TransactionID: tx.ID,
		Time:          ts,
		Amount:        effective,
	}

	results := p.engine.EvaluateAll(in)
	accepted := results.Accepted()
	if accepted {
		p.engine.RecordAccepted(in)
	}

	res := domain.ProcessingResult{
		ID:              tx.ID,
		CustomerID:      tx.CustomerID,
		Accepted:        accepted,
		OriginalAmount:  tx.LoadAmount,
		EffectiveAmount: amount.Format(effective, tx.LoadAmount),
		IsMonday:        isMonday,
		RulesEvaluated:  results,
		Time:            tx.Time,
	}

	res.Flags = p.watches.Match(rules.WatchInput{
		CustomerID:      tx.CustomerID,
		TransactionID:   tx.ID,
		Amount:          amt.InexactFloat64(),
		EffectiveAmount: effective.InexactFloat64(),
		IsMonday:        isMonday,
		Accepted:        accepted,
		Weekday:         calendar.ISOWeekday(ts),
	})

	return res, nil
}

func failed(tx domain.Transaction, err error) domain.ProcessingResult {
	return domain.ProcessingResult{
		ID:              tx.ID,
		CustomerID:      tx.CustomerID,
		Accepted:        false,
		OriginalAmount:  tx.LoadAmount,
		EffectiveAmount: tx.LoadAmount,
		IsMonday:        false,
		RulesEvaluated:  map[string]domain.RuleResult{},
		Time:            tx.Time,
		Error:           err.Error(),
	}
}

// ProcessBatch sorts the transactions by timestamp and adjudicates them in
// that order. Transactions with unparsable timestamps go last, in input order.
// Results are returned in evaluation order.
func (p *Processor) ProcessBatch(txs []domain.Transaction) []domain.ProcessingResult {
	ordered := SortByTime(txs)

	out := make([]domain.ProcessingResult, 0, len(ordered))
	for _, tx := range ordered {
		out = append(out, p.Process(tx))
	}
	return out
}

// SortByTime returns a copy of txs stably sorted by parsed timestamp.
func SortByTime(txs []domain.Transaction) []domain.Transaction {
	type keyed struct {
		tx domain.Transaction
		ts time.Time
		ok bool
	}

	items := make([]keyed, len(txs))
	for i, tx := range txs {
		ts, err := calendar.ParseTimestamp(tx.Time)
		items[i] = keyed{tx: tx, ts: ts, ok: err == nil}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ok != b.ok {
			return a.ok
		}
		return a.ok && a.ts.Before(b.ts)
	})

	out := make([]domain.Transaction, len(items))
	for i, it := range items {
		out[i] = it.tx
	}
	return out
}

// Restore replays previously adjudicated results into the engine: every
// evaluated load feeds the anomaly counters and accepted loads feed the
// business rules. Failed results are skipped. Returns the number replayed.
func (p *Processor) Restore(history []domain.ProcessingResult) int {
	replayed := 0
	for _, r := range history {
		if r.Error != "" {
			continue
		}
		ts, err := calendar.ParseTimestamp(r.Time)
		if err != nil {
			continue
		}
		amt, err := amount.Parse(r.EffectiveAmount)
		if err != nil {
			continue
		}

		in := rules.Input{
			CustomerID:    r.CustomerID,
			TransactionID: r.ID,
			Time:          ts,
			Amount:        amt,
		}
		p.engine.RecordSeen(in)
		if r.Accepted {
			p.engine.RecordAccepted(in)
		}
		replayed++
	}
	return replayed
}

// Stats is a snapshot of the policy and engine state.
type Stats struct {
	Configuration domain.LimitsPayload `json:"configuration"`
	Engine        rules.Stats          `json:"rule_engine_state"`
}

// Stats returns the current policy and state sizes.
func (p *Processor) Stats() Stats {
	return Stats{
		Configuration: domain.PayloadFromLimits(p.limits),
		Engine:        p.engine.Stats(),
	}
}
