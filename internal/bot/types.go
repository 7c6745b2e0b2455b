// Package bot implements the bot supervisor and per-bot cycle scheduler
// (spec §4.1/§4.2): a registry of long-lived workers, one per configured
// bot, each driving its own repeated pipeline-runtime cycle.
package bot

import "time"

// TradingMode mirrors spec §3 BotConfig.trading_mode.
type TradingMode string

const (
	ModePaper    TradingMode = "paper"
	ModeLive     TradingMode = "live"
	ModeBacktest TradingMode = "backtest"
)

// QuantWeights are the weighted-score components summing to 1.0 (spec §3).
type QuantWeights struct {
	Trend     float64 `json:"trend"`
	Momentum  float64 `json:"momentum"`
	Volume    float64 `json:"volume"`
	Sentiment float64 `json:"sentiment"`
}

// RiskLimits is the closed set of risk options from spec §3.
type RiskLimits struct {
	// Exposure
	MaxTotalAllocationPct  float64 `json:"max_total_allocation_pct"`
	MaxSingleAllocationPct float64 `json:"max_single_allocation_pct"`

	// Leverage
	MaxLeverage          float64 `json:"max_leverage"`
	DefaultLeverage      float64 `json:"default_leverage"`
	AllowDefaultLeverage bool    `json:"allow_default_leverage"`

	// Sizing
	MinPositionSizeUSD float64 `json:"min_position_size_usd"`
	MaxPositionSizeUSD float64 `json:"max_position_size_usd"`
	MinRiskReward      float64 `json:"min_risk_reward_ratio"`

	// Breakers
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyLossPct      float64 `json:"max_daily_loss_pct"`
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"`

	// Funding
	MaxFundingRatePct       float64 `json:"max_funding_rate_pct"`
	FundingRateCheckEnabled bool    `json:"funding_rate_check_enabled"`

	// Trailing stop
	TrailingStopEnabled        bool    `json:"trailing_stop_enabled"`
	TrailingStopTriggerPct     float64 `json:"trailing_stop_trigger_pct"`
	TrailingStopDistancePct    float64 `json:"trailing_stop_distance_pct"`
	TrailingStopLockProfitPct  float64 `json:"trailing_stop_lock_profit_pct"`

	// Policy switches
	HardStopEnabled       bool `json:"hard_stop_enabled"`
	PauseOnConsecLoss     bool `json:"pause_on_consecutive_loss"`
	PauseOnMaxDrawdown    bool `json:"pause_on_max_drawdown"`
}

// Config is the durable BotConfig record (spec §3). It is re-read at
// least once per cycle; changes take effect on the next cycle boundary.
type Config struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`

	ExchangeID string `json:"exchange_id"`
	WorkflowID string `json:"workflow_id"`
	LLMID      string `json:"llm_id,omitempty"`

	TradingMode          TradingMode        `json:"trading_mode"`
	CycleIntervalS       int                `json:"cycle_interval_s"`
	MaxConcurrentSymbols int                `json:"max_concurrent_symbols"`
	Timeframes           []string           `json:"timeframes"`
	OHLCVLimits          map[string]int     `json:"ohlcv_limits"`
	IndicatorConfigs     map[string]any     `json:"indicator_configs"`

	QuantWeights   QuantWeights `json:"quant_weights"`
	QuantThreshold float64      `json:"quant_threshold"`

	RiskLimits RiskLimits `json:"risk_limits"`

	TraceBotID string `json:"trace_bot_id,omitempty"`

	LastCycleID int64 `json:"last_cycle_id"`
	IsActive    bool  `json:"is_active"`
}

// BotState is the high-level worker lifecycle state published in
// BotStatus (spec §3).
type BotState string

const (
	StateRunning BotState = "running"
	StateIdle    BotState = "idle"
	StateError   BotState = "error"
	StateStopped BotState = "stopped"
	StateUnknown BotState = "unknown"
)

// Status is the eventually-consistent snapshot published for UI polling
// (spec §3/§6.3), written by the worker after each cycle to a well-known
// location and read by the control plane — no shared-memory coupling.
type Status struct {
	BotID          string    `json:"bot_id"`
	IsRunning      bool      `json:"is_running"`
	CurrentCycle   int64     `json:"current_cycle"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	OpenPositions  int       `json:"open_positions"`
	SymbolsTrading []string  `json:"symbols_trading"`
	Balance        float64   `json:"balance"`
	LastDecision   string    `json:"last_decision,omitempty"`
	State          BotState  `json:"state"`
	LastError      string    `json:"last_error,omitempty"`
}
