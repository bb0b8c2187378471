// Package session serializes access to a processor shared by the HTTP API,
// the async worker and the config watcher.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/metrics"
	"github.com/opensource-finance/loadguard/internal/processor"
	"github.com/opensource-finance/loadguard/internal/rules"
)

var tracer = otel.Tracer("loadguard-session")

// Session is a mutex-guarded processor. Every evaluate-and-commit happens
// under the lock, so concurrent callers can never both pass a limit check
// before either commits.
type Session struct {
	mu       sync.Mutex
	proc     *processor.Processor
	watches  map[string]string
	defaults domain.Limits

	// last is the most recent commit time handed out by stamp.
	last time.Time
}

// New creates a session with the given limits and watch expressions.
func New(limits domain.Limits, watches map[string]string) (*Session, error) {
	ws, err := rules.NewWatchSet(watches)
	if err != nil {
		return nil, err
	}
	return &Session{
		proc:     processor.New(limits, processor.WithWatches(ws)),
		watches:  watches,
		defaults: domain.DefaultLimits(),
	}, nil
}

// Process adjudicates a single load.
func (s *Session) Process(ctx context.Context, tx domain.Transaction) domain.ProcessingResult {
	res, _ := s.process(ctx, tx)
	return res
}

// ProcessBatch adjudicates a batch in timestamp order. No other load is
// evaluated while the batch runs.
func (s *Session) ProcessBatch(ctx context.Context, txs []domain.Transaction) []domain.ProcessingResult {
	results, _ := s.processBatch(ctx, txs)
	return results
}

// Adjudicate processes one load and returns it as a run ready to store.
func (s *Session) Adjudicate(ctx context.Context, filename string, tx domain.Transaction) *domain.OutputBatch {
	res, at := s.process(ctx, tx)
	return &domain.OutputBatch{
		ProcessID: uuid.New().String(),
		Timestamp: at,
		Filename:  filename,
		Results:   []domain.ProcessingResult{res},
	}
}

// AdjudicateBatch processes txs like ProcessBatch and returns them as a run
// ready to store.
func (s *Session) AdjudicateBatch(ctx context.Context, filename string, txs []domain.Transaction) *domain.OutputBatch {
	results, at := s.processBatch(ctx, txs)
	return &domain.OutputBatch{
		ProcessID: uuid.New().String(),
		Timestamp: at,
		Filename:  filename,
		Results:   results,
	}
}

func (s *Session) process(ctx context.Context, tx domain.Transaction) (domain.ProcessingResult, time.Time) {
	_, span := tracer.Start(ctx, "session.process",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("customer.id", tx.CustomerID),
		),
	)
	defer span.End()

	s.mu.Lock()
	res := s.proc.Process(tx)
	at := s.stamp()
	s.mu.Unlock()

	span.SetAttributes(attribute.Bool("accepted", res.Accepted))
	metrics.Observe(&res)
	return res, at
}

func (s *Session) processBatch(ctx context.Context, txs []domain.Transaction) ([]domain.ProcessingResult, time.Time) {
	_, span := tracer.Start(ctx, "session.process_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(txs))),
	)
	defer span.End()

	start := time.Now()

	s.mu.Lock()
	results := s.proc.ProcessBatch(txs)
	at := s.stamp()
	s.mu.Unlock()

	accepted := 0
	for i := range results {
		metrics.Observe(&results[i])
		if results[i].Accepted {
			accepted++
		}
	}
	metrics.BatchesProcessed.Inc()
	metrics.BatchDuration.Observe(float64(time.Since(start).Milliseconds()))

	span.SetAttributes(attribute.Int("batch.accepted", accepted))
	slog.Debug("batch adjudicated",
		"size", len(txs),
		"accepted", accepted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, at
}

// stamp returns the commit time of the run just evaluated. Times strictly
// increase at microsecond resolution, the finest a PostgreSQL TIMESTAMP
// keeps, so stored runs sort in commit order. Callers hold s.mu.
func (s *Session) stamp() time.Time {
	at := time.Now().UTC().Truncate(time.Microsecond)
	if !at.After(s.last) {
		at = s.last.Add(time.Microsecond)
	}
	s.last = at
	return at
}

// Limits returns the policy in effect.
func (s *Session) Limits() domain.Limits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc.Limits()
}

// Reconfigure replaces the policy. Rule state starts empty under the new policy.
func (s *Session) Reconfigure(limits domain.Limits) error {
	return s.reconfigure(limits, s.currentWatches())
}

// ReconfigureAll replaces both the policy and the watch expressions.
func (s *Session) ReconfigureAll(limits domain.Limits, watches map[string]string) error {
	return s.reconfigure(limits, watches)
}

func (s *Session) currentWatches() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watches
}

func (s *Session) reconfigure(limits domain.Limits, watches map[string]string) error {
	ws, err := rules.NewWatchSet(watches)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.proc = processor.New(limits, processor.WithWatches(ws))
	s.watches = watches
	s.mu.Unlock()

	slog.Info("limits reconfigured",
		"daily_limit", limits.DailyLimit.StringFixed(2),
		"weekly_limit", limits.WeeklyLimit.StringFixed(2),
		"daily_load_count", limits.DailyLoadCount,
		"watches", ws.Len(),
	)
	return nil
}

// Reset restores the default policy with empty state.
func (s *Session) Reset() error {
	return s.Reconfigure(s.defaults)
}

// Restore replays persisted results into the current engine.
func (s *Session) Restore(history []domain.ProcessingResult) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc.Restore(history)
}

// Stats returns the current policy and engine state sizes.
func (s *Session) Stats() processor.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc.Stats()
}
