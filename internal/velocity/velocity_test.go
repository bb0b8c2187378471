package velocity

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/repository"
	"github.com/opensource-finance/loadguard/internal/session"
)

func newRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "velocity-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func load(id, customer, amt, ts string) domain.Transaction {
	return domain.Transaction{ID: id, CustomerID: customer, LoadAmount: amt, Time: ts}
}

// seed adjudicates txs with a fresh session and stores the results.
func seed(t *testing.T, repo domain.Repository, txs ...domain.Transaction) []domain.ProcessingResult {
	t.Helper()
	sess, err := session.New(domain.DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	results := sess.ProcessBatch(context.Background(), txs)
	err = repo.SaveOutputs(context.Background(), &domain.OutputBatch{
		ProcessID: "seed",
		Timestamp: time.Now(),
		Filename:  "seed.txt",
		Results:   results,
	})
	if err != nil {
		t.Fatalf("SaveOutputs failed: %v", err)
	}
	return results
}

func TestRestore(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	seed(t, repo,
		load("100", "528", "$3000.00", "2000-01-04T09:00:00Z"),
		load("102", "528", "$1500.00", "2000-01-04T10:00:00Z"),
		load("106", "528", "$9000.00", "2000-01-04T11:00:00Z"), // rejected
	)

	sess, _ := session.New(domain.DefaultLimits(), nil)
	svc := NewService(repo)

	n, err := svc.Restore(ctx, sess)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 replayed results, got %d", n)
	}

	// 4500 accepted already: another 600 would exceed the daily limit.
	res := sess.Process(ctx, load("108", "528", "$600.00", "2000-01-04T12:00:00Z"))
	if res.Accepted {
		t.Error("expected restored daily total to reject the load")
	}
	if res.RulesEvaluated[domain.RuleDailyLimit].Reason != domain.ReasonDailyLimitExceeded {
		t.Errorf("expected daily limit failure, got %+v", res.RulesEvaluated[domain.RuleDailyLimit])
	}

	res = sess.Process(ctx, load("110", "528", "$500.00", "2000-01-04T13:00:00Z"))
	if !res.Accepted {
		t.Errorf("expected load within the restored limits to pass, got %+v", res.FailedRules())
	}
}

func TestCustomerVelocity(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	seed(t, repo,
		load("201", "77", "$100.00", "2000-01-01T09:00:00Z"),  // Saturday
		load("202", "77", "$200.00", "2000-01-03T09:00:00Z"),  // Monday, counts as 400
		load("203", "77", "$50.00", "2000-01-05T09:00:00Z"),   // Wednesday
		load("204", "77", "$6000.00", "2000-01-05T10:00:00Z"), // rejected
		load("205", "88", "$999.00", "2000-01-05T09:00:00Z"),  // other customer
	)

	svc := NewService(repo)
	date := time.Date(2000, 1, 5, 0, 0, 0, 0, time.UTC)

	v, err := svc.CustomerVelocity(ctx, "77", date)
	if err != nil {
		t.Fatalf("CustomerVelocity failed: %v", err)
	}

	if v.Date != "2000-01-05" {
		t.Errorf("expected date 2000-01-05, got %s", v.Date)
	}
	if v.DailyTotal != "50.00" || v.DailyCount != 1 {
		t.Errorf("expected daily 50.00 x1, got %s x%d", v.DailyTotal, v.DailyCount)
	}
	if v.WeeklyTotal != "550.00" || v.WeeklyCount != 3 {
		t.Errorf("expected weekly 550.00 x3, got %s x%d", v.WeeklyTotal, v.WeeklyCount)
	}

	t.Run("OutsideWindow", func(t *testing.T) {
		v, err := svc.CustomerVelocity(ctx, "77", time.Date(2000, 1, 20, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("CustomerVelocity failed: %v", err)
		}
		if v.WeeklyCount != 0 || v.WeeklyTotal != "0.00" {
			t.Errorf("expected empty window, got %+v", v)
		}
	})

	t.Run("EmptyCustomer", func(t *testing.T) {
		if _, err := svc.CustomerVelocity(ctx, "", date); err == nil {
			t.Error("expected error for empty customer id")
		}
	})
}

func TestNoRepository(t *testing.T) {
	svc := NewService(nil)
	sess, _ := session.New(domain.DefaultLimits(), nil)

	if _, err := svc.Restore(context.Background(), sess); !errors.Is(err, ErrNoRepository) {
		t.Errorf("expected ErrNoRepository, got %v", err)
	}
}
