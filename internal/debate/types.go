// Package debate implements the multi-role AI decision pipeline: analyst
// -> parallel bull/bear cross-examination -> risk-manager synthesis
// (spec §4.5), grounded on original_source's debate_decision.py graph
// node.
package debate

import (
	"encoding/json"
	"time"

	"langtrader-core/internal/pipeline"
)

// Role names a debate participant. Engine.Chains may route each role to
// a distinct LLM chain, falling back to the bot-level default; the
// debate node fills Chains from PluginContext.RoleLLM and does not read
// a role_llm_ids key from its node config.
type Role string

const (
	RoleAnalyst     Role = "analyst"
	RoleBull        Role = "bull"
	RoleBear        Role = "bear"
	RoleRiskManager Role = "risk_manager"
)

// Config configures one debate invocation.
type Config struct {
	MaxRounds         int           // debate.max_rounds, default 2
	TimeoutPerPhase   time.Duration // default 120s
	TradeHistoryLimit int           // default 10
}

// DefaultConfig matches spec §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{MaxRounds: 2, TimeoutPerPhase: 120 * time.Second, TradeHistoryLimit: 10}
}

// TradeContext is the prompt-context summary injected into every LLM
// call: the last N trades, aggregate win rate, and a consecutive-loss
// indicator (spec §4.5).
type TradeContext struct {
	RecentTrades      []TradeSummary `json:"recent_trades"`
	WinRate           float64        `json:"win_rate"`
	ConsecutiveLosses int            `json:"consecutive_losses"`
}

// TradeSummary is the prompt-facing shape of a closed trade.
type TradeSummary struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	PnLPercent float64 `json:"pnl_percent"`
	ClosedAt   string  `json:"closed_at"`
}

var analystSchema = json.RawMessage(`{"type":"object","required":["symbol","trend","summary"],"properties":{
	"symbol":{"type":"string"},"trend":{"type":"string","enum":["bullish","bearish","neutral"]},
	"key_levels":{"type":"array","items":{"type":"number"}},"summary":{"type":"string"}}}`)

var suggestionSchema = json.RawMessage(`{"type":"object","required":["symbol","action","confidence"],"properties":{
	"symbol":{"type":"string"},"action":{"type":"string","enum":["long","short","wait"]},
	"confidence":{"type":"number"},"allocation_pct":{"type":"number"},
	"stop_loss_pct":{"type":"number"},"take_profit_pct":{"type":"number"},"reasoning":{"type":"string"}}}`)

var batchDecisionSchema = json.RawMessage(`{"type":"object","required":["decisions"],"properties":{
	"decisions":{"type":"array","items":{"type":"object","required":["symbol","action"],"properties":{
		"symbol":{"type":"string"},"action":{"type":"string"},"allocation_pct":{"type":"number"},
		"leverage":{"type":"number"},"stop_loss_pct":{"type":"number"},"take_profit_pct":{"type":"number"},
		"reasoning":{"type":"string"},"skip_reason":{"type":"string"}}}},
	"total_allocation_pct":{"type":"number"},"cash_reserve_pct":{"type":"number"},
	"strategy_rationale":{"type":"string"}}}`)

// safeFallbackSuggestion is the §7 fallback when a phase's timeout/fallback
// chain is exhausted: a "wait" suggestion that degrades the cycle instead
// of failing it.
func safeFallbackSuggestion(symbol, role string, round int) pipeline.TraderSuggestion {
	return pipeline.TraderSuggestion{
		Symbol: symbol, Role: role, Round: round, Action: "wait",
		Reasoning: "fallback: llm call failed or timed out",
	}
}

func safeFallbackDecision(symbol string) pipeline.PortfolioDecision {
	return pipeline.PortfolioDecision{Symbol: symbol, Action: "wait", SkipReason: "debate synthesis unavailable"}
}
