package rules

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// WatchInput holds the variables visible to watch expressions.
type WatchInput struct {
	CustomerID      string
	TransactionID   string
	Amount          float64
	EffectiveAmount float64
	IsMonday        bool
	Accepted        bool
	Weekday         int // 1 = Monday ... 7 = Sunday
}

// Watch is a compiled CEL expression that flags matching loads for review.
type Watch struct {
	Name       string
	Expression string
	program    cel.Program
}

// WatchSet evaluates audit-only watch expressions. Watches never change a decision.
type WatchSet struct {
	env     *cel.Env
	watches []*Watch
}

// NewWatchSet compiles the given name -> expression map. Every expression must return bool.
func NewWatchSet(expressions map[string]string) (*WatchSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("transaction_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("effective_amount", cel.DoubleType),
		cel.Variable("is_monday", cel.BoolType),
		cel.Variable("accepted", cel.BoolType),
		cel.Variable("weekday", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	names := make([]string, 0, len(expressions))
	for name := range expressions {
		names = append(names, name)
	}
	sort.Strings(names)

	ws := &WatchSet{env: env}
	for _, name := range names {
		w, err := ws.compile(name, expressions[name])
		if err != nil {
			return nil, err
		}
		ws.watches = append(ws.watches, w)
	}
	return ws, nil
}

func (ws *WatchSet) compile(name, expr string) (*Watch, error) {
	ast, issues := ws.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile watch %s: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("watch %s: expression must return bool, got %s", name, ast.OutputType())
	}

	program, err := ws.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for watch %s: %w", name, err)
	}
	return &Watch{Name: name, Expression: expr, program: program}, nil
}

// Len returns the number of compiled watches.
func (ws *WatchSet) Len() int {
	if ws == nil {
		return 0
	}
	return len(ws.watches)
}

// Match returns the names of the watches that evaluate to true, sorted.
// Evaluation errors are logged and treated as no match.
func (ws *WatchSet) Match(in WatchInput) []string {
	if ws.Len() == 0 {
		return nil
	}

	activation := map[string]any{
		"customer_id":      in.CustomerID,
		"transaction_id":   in.TransactionID,
		"amount":           in.Amount,
		"effective_amount": in.EffectiveAmount,
		"is_monday":        in.IsMonday,
		"accepted":         in.Accepted,
		"weekday":          int64(in.Weekday),
	}

	var matched []string
	for _, w := range ws.watches {
		out, _, err := w.program.Eval(activation)
		if err != nil {
			slog.Warn("watch evaluation failed", "watch", w.Name, "tx_id", in.TransactionID, "error", err)
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			matched = append(matched, w.Name)
		}
	}
	return matched
}
