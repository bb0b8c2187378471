// Package worker adjudicates loads submitted over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/session"
)

// Filename recorded for outputs produced from bus messages.
const Filename = "bus"

// Worker consumes TopicLoadSubmitted, adjudicates each load through the shared
// session and publishes the decision.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	session *session.Session

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. repo may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, sess *session.Session) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		session: sess,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to submitted loads.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicLoadSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicLoadSubmitted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicLoadSubmitted)
	return nil
}

// handleMessage decodes a load, adjudicates it, stores the output and
// publishes the decision. A declined load is also published to TopicLoadDeclined.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse load message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	batch := w.session.Adjudicate(ctx, Filename, tx)
	result := batch.Results[0]

	if w.repo != nil {
		if err := w.repo.SaveOutputs(ctx, batch); err != nil {
			slog.Error("failed to save output",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	payload, err := json.Marshal(result.Decision())
	if err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, domain.TopicLoadDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	if !result.Accepted {
		audit, err := json.Marshal(&result)
		if err != nil {
			return err
		}
		if err := w.bus.Publish(ctx, domain.TopicLoadDeclined, audit); err != nil {
			slog.Error("failed to publish declined load",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("load processed",
		"tx_id", tx.ID,
		"customer_id", tx.CustomerID,
		"accepted", result.Accepted,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
