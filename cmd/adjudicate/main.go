// Command adjudicate runs a file of fund loads through the velocity limits
// and writes one decision per line.
//
//	adjudicate input.txt output.txt
//	adjudicate -stats -verbose input.txt
//	adjudicate -selftest
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/opensource-finance/loadguard/internal/config"
	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/ingest"
	"github.com/opensource-finance/loadguard/internal/report"
	"github.com/opensource-finance/loadguard/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("adjudicate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file (YAML or JSON)")
	showStats := fs.Bool("stats", false, "Show processing statistics")
	verbose := fs.Bool("verbose", false, "Verbose output")
	auditPath := fs.String("audit", "", "Write full audit records (JSON lines) to this file")
	selfTest := fs.Bool("selftest", false, "Run built-in sample loads")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: adjudicate [flags] input [output]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	cfg := loadConfig(*configPath, stderr)
	limits, err := cfg.Limits.ToLimits()
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid limits: %v\n", err)
		return 1
	}
	sess, err := session.New(limits, cfg.Watches)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid watch expression: %v\n", err)
		return 1
	}

	ctx := context.Background()

	if *selfTest {
		runSelfTest(ctx, sess, stdout)
		return 0
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: input file is required (unless using -selftest)")
		fs.Usage()
		return 2
	}

	txs, err := ingest.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error processing file: %v\n", err)
		return 1
	}

	results := sess.ProcessBatch(ctx, txs)

	if err := writeOutput(fs.Arg(1), stdout, results); err != nil {
		fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		return 1
	}

	if *auditPath != "" {
		if err := writeFile(*auditPath, results, report.WriteAudit); err != nil {
			fmt.Fprintf(stderr, "Error writing audit: %v\n", err)
			return 1
		}
	}

	if *showStats {
		printStatistics(stdout, sess, results, *verbose)
	}
	if *verbose {
		printSummary(stdout, results)
	}
	return 0
}

// loadConfig falls back to the defaults when the file cannot be used.
func loadConfig(path string, stderr io.Writer) *domain.Config {
	if path == "" {
		return domain.DefaultConfig()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: could not load config from %q: %v\n", path, err)
		fmt.Fprintln(stderr, "Using default configuration")
		return domain.DefaultConfig()
	}
	return cfg
}

func writeOutput(path string, stdout io.Writer, results []domain.ProcessingResult) error {
	if path == "" {
		return report.WriteDecisions(stdout, results)
	}
	return writeFile(path, results, report.WriteDecisions)
}

func writeFile(path string, results []domain.ProcessingResult, write func(io.Writer, []domain.ProcessingResult) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func count(results []domain.ProcessingResult) (accepted, declined int) {
	for i := range results {
		if results[i].Accepted {
			accepted++
		} else {
			declined++
		}
	}
	return accepted, declined
}

func printStatistics(w io.Writer, sess *session.Session, results []domain.ProcessingResult, verbose bool) {
	accepted, declined := count(results)

	fmt.Fprintln(w, "\n=== PROCESSING STATISTICS ===")
	fmt.Fprintf(w, "Total transactions processed: %d\n", len(results))
	fmt.Fprintf(w, "Accepted: %d\n", accepted)
	fmt.Fprintf(w, "Declined: %d\n", declined)

	if !verbose {
		return
	}

	stats := sess.Stats()
	c := stats.Configuration
	fmt.Fprintln(w, "\nConfiguration:")
	fmt.Fprintf(w, "  daily_limit: %s\n", c.DailyLimit)
	fmt.Fprintf(w, "  weekly_limit: %s\n", c.WeeklyLimit)
	fmt.Fprintf(w, "  daily_load_count: %d\n", c.DailyLoadCount)
	fmt.Fprintf(w, "  prime_id_daily_limit: %s\n", c.PrimeIDDailyLimit)
	fmt.Fprintf(w, "  prime_id_daily_count: %d\n", c.PrimeIDDailyCount)
	fmt.Fprintf(w, "  monday_multiplier: %d\n", c.MondayMultiplier)

	e := stats.Engine
	fmt.Fprintln(w, "\nRule Engine State:")
	fmt.Fprintf(w, "  daily_limit_customers: %d\n", e.DailyLimitCustomers)
	fmt.Fprintf(w, "  daily_count_customers: %d\n", e.DailyCountCustomers)
	fmt.Fprintf(w, "  weekly_limit_customers: %d\n", e.WeeklyLimitCustomers)
	fmt.Fprintf(w, "  prime_id_transactions: %d\n", e.PrimeIDCustomers)
	fmt.Fprintf(w, "  anomaly_customers: %d\n", e.AnomalyCustomers)
}

func printSummary(w io.Writer, results []domain.ProcessingResult) {
	fmt.Fprintln(w, "\n=== PROCESSING SUMMARY ===")
	fmt.Fprintf(w, "Total transactions: %d\n", len(results))
	if len(results) == 0 {
		return
	}

	accepted, declined := count(results)
	total := float64(len(results))
	fmt.Fprintf(w, "Accepted: %d (%.1f%%)\n", accepted, float64(accepted)/total*100)
	fmt.Fprintf(w, "Declined: %d (%.1f%%)\n", declined, float64(declined)/total*100)

	reasons := make(map[string]int)
	for i := range results {
		for _, reason := range results[i].FailedRules() {
			if reason == "" {
				reason = "UNKNOWN"
			}
			reasons[reason]++
		}
	}
	if len(reasons) == 0 {
		return
	}

	names := make([]string, 0, len(reasons))
	for reason := range reasons {
		names = append(names, reason)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "\nDecline reasons:")
	for _, reason := range names {
		fmt.Fprintf(w, "  %s: %d\n", reason, reasons[reason])
	}
}

var sampleLoads = []domain.Transaction{
	{ID: "15337", CustomerID: "999", LoadAmount: "$1000.00", Time: "2023-01-01T10:00:00Z"},
	{ID: "34781", CustomerID: "343", LoadAmount: "$500.00", Time: "2023-01-01T11:00:00Z"},
	{ID: "26440", CustomerID: "222", LoadAmount: "$2000.00", Time: "2023-01-01T12:00:00Z"},
}

func runSelfTest(ctx context.Context, sess *session.Session, w io.Writer) {
	fmt.Fprintln(w, "Running built-in sample loads...")
	fmt.Fprintln(w, "\nResults:")
	for i, tx := range sampleLoads {
		res := sess.Process(ctx, tx)
		status := "DECLINED"
		if res.Accepted {
			status = "ACCEPTED"
		}
		fmt.Fprintf(w, "  Load %d: %s - %s (%s)\n", i+1, status, tx.ID, tx.LoadAmount)
	}
	fmt.Fprintln(w, "\nSelf test completed.")
}
