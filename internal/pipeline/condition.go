package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// EvalCondition evaluates a conditional-edge expression against a
// CycleState, per spec §4.3: equality/comparison on numeric or string
// fields, combined with && (conjunction) and || (disjunction). An empty
// expression is unconditional and always matches.
//
// Grammar (left-to-right, no nested parens — workflow edges are flat
// clauses by design):
//
//	expr       := andClause ("||" andClause)*
//	andClause  := comparison ("&&" comparison)*
//	comparison := field op literal
//	field      := dotted path into CycleState, e.g. "performance_window.consecutive_losses"
//	             or "symbols.<symbol>.quant_score"
//	op         := "==" | "!=" | ">" | ">=" | "<" | "<="
func EvalCondition(expr string, state *CycleState) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, orClause := range strings.Split(expr, "||") {
		ok, err := evalAndClause(orClause, state)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evalAndClause(clause string, state *CycleState) (bool, error) {
	for _, cmp := range strings.Split(clause, "&&") {
		ok, err := evalComparison(cmp, state)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

var comparisonOps = []string{">=", "<=", "==", "!=", ">", "<"}

func evalComparison(cmp string, state *CycleState) (bool, error) {
	cmp = strings.TrimSpace(cmp)
	for _, op := range comparisonOps {
		idx := strings.Index(cmp, op)
		if idx < 0 {
			continue
		}
		field := strings.TrimSpace(cmp[:idx])
		literal := strings.TrimSpace(cmp[idx+len(op):])
		value, ok := resolveField(field, state)
		if !ok {
			// Missing field never matches; the graph falls back to the
			// default edge, per spec "if none match, terminate gracefully".
			return false, nil
		}
		return compare(value, op, literal)
	}
	return false, fmt.Errorf("unparseable condition clause %q", cmp)
}

func resolveField(path string, state *CycleState) (any, bool) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "cycle_id":
		return state.CycleID, true
	case "bot_id":
		return state.BotID, true
	case "paused":
		return state.Paused, true
	case "performance_window":
		if len(parts) < 2 {
			return nil, false
		}
		switch parts[1] {
		case "consecutive_losses":
			return float64(state.Performance.ConsecutiveLosses), true
		case "daily_pnl_pct":
			return state.Performance.DailyPnLPct, true
		case "drawdown_pct":
			return state.Performance.DrawdownPct, true
		case "win_rate":
			return state.Performance.WinRate, true
		}
	case "balance":
		if len(parts) < 2 {
			return nil, false
		}
		if parts[1] == "total" {
			return state.Balance.Total, true
		}
		if parts[1] == "available" {
			return state.Balance.Available, true
		}
	case "symbols":
		if len(parts) < 3 {
			return nil, false
		}
		run, ok := state.Symbols[parts[1]]
		if !ok || run == nil {
			return nil, false
		}
		switch parts[2] {
		case "quant_score":
			return run.QuantScore, true
		case "dropped":
			return run.Dropped, true
		case "drop_reason":
			return run.DropReason, true
		}
	case "errors_count":
		return float64(len(state.Errors)), true
	}
	return nil, false
}

func compare(value any, op, literal string) (bool, error) {
	switch v := value.(type) {
	case float64:
		lit, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return false, fmt.Errorf("expected numeric literal, got %q", literal)
		}
		switch op {
		case "==":
			return v == lit, nil
		case "!=":
			return v != lit, nil
		case ">":
			return v > lit, nil
		case ">=":
			return v >= lit, nil
		case "<":
			return v < lit, nil
		case "<=":
			return v <= lit, nil
		}
	case int64:
		lit, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return false, fmt.Errorf("expected numeric literal, got %q", literal)
		}
		return compare(float64(v), op, strconv.FormatFloat(lit, 'f', -1, 64))
	case bool:
		lit, err := strconv.ParseBool(literal)
		if err != nil {
			return false, fmt.Errorf("expected boolean literal, got %q", literal)
		}
		switch op {
		case "==":
			return v == lit, nil
		case "!=":
			return v != lit, nil
		}
		return false, fmt.Errorf("operator %q not valid on boolean field", op)
	case string:
		lit := strings.Trim(literal, `"'`)
		switch op {
		case "==":
			return v == lit, nil
		case "!=":
			return v != lit, nil
		case ">":
			return v > lit, nil
		case ">=":
			return v >= lit, nil
		case "<":
			return v < lit, nil
		case "<=":
			return v <= lit, nil
		}
	}
	return false, fmt.Errorf("unsupported field type %T", value)
}
