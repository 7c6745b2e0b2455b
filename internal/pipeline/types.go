// Package pipeline implements the directed-graph workflow runtime that
// drives a bot through one cycle: nodes are hot-swappable plugins bound by
// a Workflow graph, threaded through a CycleState, with per-node
// checkpointing.
package pipeline

import "time"

// TradingMode mirrors BotConfig.trading_mode.
type TradingMode string

const (
	ModePaper    TradingMode = "paper"
	ModeLive     TradingMode = "live"
	ModeBacktest TradingMode = "backtest"
)

// Indicators holds the computed technical-indicator snapshot for a symbol,
// keyed by indicator name (e.g. "sma_short", "sma_long", "rsi").
type Indicators map[string]float64

// AnalystOutput is the structured output of the debate engine's analyst
// role for one symbol (spec §4.5 Phase A).
type AnalystOutput struct {
	Symbol    string   `json:"symbol"`
	Trend     string   `json:"trend"` // bullish|bearish|neutral
	KeyLevels []float64 `json:"key_levels,omitempty"`
	Summary   string   `json:"summary"`
}

// TraderSuggestion is the structured output of a bull or bear role for one
// symbol, for one debate round (spec §4.5 Phase B).
type TraderSuggestion struct {
	Symbol        string  `json:"symbol"`
	Role          string  `json:"role"` // bull|bear
	Round         int     `json:"round"`
	Action        string  `json:"action"` // long|short|wait
	Confidence    float64 `json:"confidence"`
	AllocationPct float64 `json:"allocation_pct"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	Reasoning     string  `json:"reasoning"`
}

// PortfolioDecision is a single-symbol decision emitted by synthesis
// (spec §4.5 Phase C) and consumed by the risk monitor + executor.
type PortfolioDecision struct {
	Symbol        string  `json:"symbol"`
	Action        string  `json:"action"` // long|short|close|wait|skip
	AllocationPct float64 `json:"allocation_pct"`
	Leverage      float64 `json:"leverage,omitempty"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	Reasoning     string  `json:"reasoning"`
	SkipReason    string  `json:"skip_reason,omitempty"`
}

// BatchDecision is the risk manager role's synthesis output across every
// candidate symbol in the cycle.
type BatchDecision struct {
	Decisions         []PortfolioDecision `json:"decisions"`
	TotalAllocationPct float64            `json:"total_allocation_pct"`
	CashReservePct     float64            `json:"cash_reserve_pct"`
	StrategyRationale  string             `json:"strategy_rationale"`
}

// DebateArtifacts captures everything the debate engine produced for one
// symbol, retained on CycleState for the control-plane's get_debate call.
type DebateArtifacts struct {
	Analyst      *AnalystOutput     `json:"analyst,omitempty"`
	BullRounds   []TraderSuggestion `json:"bull_rounds,omitempty"`
	BearRounds   []TraderSuggestion `json:"bear_rounds,omitempty"`
	UsedFallback bool               `json:"used_fallback,omitempty"`
}

// ExecutionResult records what the executor did with a decision.
type ExecutionResult struct {
	Submitted bool   `json:"submitted"`
	OrderID   string `json:"order_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SymbolRun is the per-symbol working record threaded through the
// pipeline for one cycle.
type SymbolRun struct {
	Symbol     string            `json:"symbol"`
	Indicators Indicators        `json:"indicators,omitempty"`
	QuantScore float64           `json:"quant_score"`
	Dropped    bool              `json:"dropped,omitempty"`
	DropReason string            `json:"drop_reason,omitempty"`
	Debate     *DebateArtifacts  `json:"debate,omitempty"`
	Decision   *PortfolioDecision `json:"decision,omitempty"`
	Execution  *ExecutionResult  `json:"execution,omitempty"`
}

// Balance is the global account snapshot as of cycle start.
type Balance struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// PositionSnapshot mirrors spec §3 Position, as carried on CycleState.
type PositionSnapshot struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"` // long|short
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	Leverage         float64 `json:"leverage"`
	MarginUsed       float64 `json:"margin_used"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	LiquidationPrice float64 `json:"liquidation_price,omitempty"`
}

// PerformanceWindow rolls up recent trade outcomes, used by the risk
// breakers and injected into the debate prompt context.
type PerformanceWindow struct {
	ConsecutiveLosses int     `json:"consecutive_losses"`
	DailyPnLPct       float64 `json:"daily_pnl_pct"`
	DrawdownPct       float64 `json:"drawdown_pct"`
	WinRate           float64 `json:"win_rate"`
}

// CycleState is the mutable record threaded through pipeline nodes for a
// single bot cycle (spec §3). It is checkpointed after every node.
type CycleState struct {
	CycleID        int64                 `json:"cycle_id"`
	BotID          string                `json:"bot_id"`
	StartedAt      time.Time             `json:"started_at"`
	ConfigSnapshot map[string]any        `json:"config_snapshot,omitempty"`
	Symbols        map[string]*SymbolRun `json:"symbols"`
	Balance        Balance               `json:"balance"`
	Positions      []PositionSnapshot    `json:"positions"`
	Performance    PerformanceWindow     `json:"performance_window"`
	Errors         []CycleError          `json:"errors,omitempty"`
	Paused         bool                  `json:"paused,omitempty"`
	PauseReason    string                `json:"pause_reason,omitempty"`
}

// CycleError is a recoverable failure recorded into CycleState rather
// than aborting the cycle (spec §7 Validation/Transient taxonomy).
type CycleError struct {
	Node    string    `json:"node"`
	Symbol  string    `json:"symbol,omitempty"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NewCycleState materializes a fresh state for a cycle.
func NewCycleState(botID string, cycleID int64, symbols []string) *CycleState {
	s := &CycleState{
		CycleID:   cycleID,
		BotID:     botID,
		StartedAt: time.Now(),
		Symbols:   make(map[string]*SymbolRun, len(symbols)),
	}
	for _, sym := range symbols {
		s.Symbols[sym] = &SymbolRun{Symbol: sym}
	}
	return s
}

// AddSymbol seeds a candidate symbol into the cycle, called by the
// coins_pick node. A symbol already present is left untouched.
func (s *CycleState) AddSymbol(symbol string) *SymbolRun {
	if s.Symbols == nil {
		s.Symbols = make(map[string]*SymbolRun)
	}
	if run, ok := s.Symbols[symbol]; ok {
		return run
	}
	run := &SymbolRun{Symbol: symbol}
	s.Symbols[symbol] = run
	return run
}

// AddError records a recoverable failure without aborting the cycle.
func (s *CycleState) AddError(node, symbol, kind, message string) {
	s.Errors = append(s.Errors, CycleError{
		Node: node, Symbol: symbol, Kind: kind, Message: message, At: time.Now(),
	})
}

// ActiveSymbols returns symbols not dropped by an earlier node, in a
// stable (sorted) order.
func (s *CycleState) ActiveSymbols() []string {
	out := make([]string, 0, len(s.Symbols))
	for sym, run := range s.Symbols {
		if run != nil && !run.Dropped {
			out = append(out, sym)
		}
	}
	return sortStrings(out)
}

func sortStrings(ss []string) []string {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
	return ss
}
