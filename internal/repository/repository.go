// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/loadguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveOutputs stores a run atomically.
func (r *SQLRepository) SaveOutputs(ctx context.Context, batch *domain.OutputBatch) error {
	if batch == nil || batch.ProcessID == "" {
		return fmt.Errorf("%w: processID is required", ErrInvalidInput)
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now()
	}
	batch.Timestamp = batch.Timestamp.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO processed_outputs (
			process_id, position, timestamp, filename,
			transaction_id, customer_id, accepted,
			original_amount, effective_amount, rules_evaluated,
			transaction_time, is_monday, error, flags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range batch.Results {
		res := &batch.Results[i]

		rules, err := json.Marshal(res.RulesEvaluated)
		if err != nil {
			return fmt.Errorf("failed to encode rules for %s: %w", res.ID, err)
		}
		var flags any
		if len(res.Flags) > 0 {
			b, _ := json.Marshal(res.Flags)
			flags = string(b)
		}
		var errMsg any
		if res.Error != "" {
			errMsg = res.Error
		}

		if _, err := stmt.ExecContext(ctx,
			batch.ProcessID, i, batch.Timestamp, batch.Filename,
			res.ID, res.CustomerID, boolToInt(res.Accepted),
			res.OriginalAmount, res.EffectiveAmount, string(rules),
			res.Time, boolToInt(res.IsMonday), errMsg, flags,
		); err != nil {
			return fmt.Errorf("failed to insert output %s: %w", res.ID, err)
		}
	}

	return tx.Commit()
}

const selectOutputs = `
	SELECT process_id, timestamp, filename,
		   transaction_id, customer_id, accepted,
		   original_amount, effective_amount, rules_evaluated,
		   transaction_time, is_monday, error, flags
	FROM processed_outputs
`

// ListResults returns every stored result, oldest run first, in evaluation order.
func (r *SQLRepository) ListResults(ctx context.Context) ([]*domain.StoredOutput, error) {
	rows, err := r.db.QueryContext(ctx, selectOutputs+` ORDER BY timestamp ASC, process_id ASC, position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []*domain.StoredOutput
	for rows.Next() {
		out, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}

// ListOutputs returns every run with its results, newest run first.
func (r *SQLRepository) ListOutputs(ctx context.Context) ([]*domain.OutputBatch, error) {
	stored, err := r.ListResults(ctx)
	if err != nil {
		return nil, err
	}

	var batches []*domain.OutputBatch
	index := make(map[string]*domain.OutputBatch)
	for _, s := range stored {
		b, ok := index[s.ProcessID]
		if !ok {
			b = &domain.OutputBatch{
				ProcessID: s.ProcessID,
				Timestamp: s.Timestamp,
				Filename:  s.Filename,
			}
			index[s.ProcessID] = b
			batches = append(batches, b)
		}
		b.Results = append(b.Results, s.Result)
	}

	for i, j := 0, len(batches)-1; i < j; i, j = i+1, j-1 {
		batches[i], batches[j] = batches[j], batches[i]
	}
	return batches, nil
}

// GetOutputs returns a single run by process ID.
func (r *SQLRepository) GetOutputs(ctx context.Context, processID string) (*domain.OutputBatch, error) {
	rows, err := r.db.QueryContext(ctx,
		r.rebind(selectOutputs+` WHERE process_id = ? ORDER BY position ASC`), processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch *domain.OutputBatch
	for rows.Next() {
		out, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			batch = &domain.OutputBatch{
				ProcessID: out.ProcessID,
				Timestamp: out.Timestamp,
				Filename:  out.Filename,
			}
		}
		batch.Results = append(batch.Results, out.Result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrNotFound
	}
	return batch, nil
}

// Statistics returns accepted/rejected totals.
func (r *SQLRepository) Statistics(ctx context.Context) (*domain.OutputStatistics, error) {
	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN accepted = 1 THEN 1 ELSE 0 END), 0)
		FROM processed_outputs
	`

	var stats domain.OutputStatistics
	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.TotalProcessed, &stats.Accepted); err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	stats.Rejected = stats.TotalProcessed - stats.Accepted
	return &stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutput(row scanner) (*domain.StoredOutput, error) {
	var (
		out                domain.StoredOutput
		accepted, isMonday int
		rules              string
		errMsg, flags      sql.NullString
	)

	if err := row.Scan(
		&out.ProcessID, &out.Timestamp, &out.Filename,
		&out.Result.ID, &out.Result.CustomerID, &accepted,
		&out.Result.OriginalAmount, &out.Result.EffectiveAmount, &rules,
		&out.Result.Time, &isMonday, &errMsg, &flags,
	); err != nil {
		return nil, err
	}

	out.Timestamp = out.Timestamp.UTC()
	out.Result.Accepted = accepted == 1
	out.Result.IsMonday = isMonday == 1
	out.Result.Error = errMsg.String

	if err := json.Unmarshal([]byte(rules), &out.Result.RulesEvaluated); err != nil {
		return nil, fmt.Errorf("failed to parse rules for %s: %w", out.Result.ID, err)
	}
	if flags.Valid && flags.String != "" {
		if err := json.Unmarshal([]byte(flags.String), &out.Result.Flags); err != nil {
			return nil, fmt.Errorf("failed to parse flags for %s: %w", out.Result.ID, err)
		}
	}

	return &out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

var _ domain.Repository = (*SQLRepository)(nil)
