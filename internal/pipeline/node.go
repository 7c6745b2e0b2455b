package pipeline

import (
	"context"
	"database/sql"

	"langtrader-core/internal/events"
	"langtrader-core/pkg/cache"
	"langtrader-core/pkg/checkpoint"
	"langtrader-core/internal/persistence"
	"langtrader-core/pkg/exchanges/common"
	"langtrader-core/pkg/llm"
	"langtrader-core/pkg/ratelimit"
)

// FailKind classifies a node failure per spec §4.3.
type FailKind int

const (
	// Recoverable failures are recorded into CycleState and the graph
	// continues along the default edge.
	Recoverable FailKind = iota
	// Fatal failures abort the cycle.
	Fatal
)

// NodeError wraps a node failure with its kind so the graph runner can
// decide whether to continue or abort.
type NodeError struct {
	Kind    FailKind
	Node    string
	Symbol  string
	Wrapped error
}

func (e *NodeError) Error() string { return e.Wrapped.Error() }
func (e *NodeError) Unwrap() error { return e.Wrapped }

// Fail constructs a NodeError of the given kind.
func Fail(kind FailKind, node, symbol string, err error) *NodeError {
	return &NodeError{Kind: kind, Node: node, Symbol: symbol, Wrapped: err}
}

// Metadata describes a registered node, per spec §4.3.
type Metadata struct {
	Name           string
	DisplayName    string
	Category       string
	InsertAfter    string
	SuggestedOrder int
	RequiresLLM    bool
	RequiresTrader bool
}

// BotConfigView is the minimal read-only slice of BotConfig a node needs;
// defined here (rather than imported from internal/bot) to avoid a
// pipeline<->bot import cycle, mirroring the teacher's preference for
// narrow interfaces over shared god-structs.
type BotConfigView struct {
	BotID                string
	TradingMode          TradingMode
	Timeframes           []string
	OHLCVLimits          map[string]int
	IndicatorConfigs     map[string]any
	QuantWeights         map[string]float64
	QuantThreshold       float64
	MaxConcurrentSymbols int
	LLMID                string
	RiskLimits           map[string]any
}

// PluginContext is threaded into every node's Run call: the exchange
// client, LLM factory, cache, store session and bot config (spec §4.3).
type PluginContext struct {
	Ctx          context.Context
	Gateway      common.Gateway
	Limiter      *ratelimit.Limiter
	LLM          llm.Chain
	RoleLLM      map[string]llm.Chain
	Cache        *cache.NamespacedCache
	DB           *sql.DB
	Checkpoints  *checkpoint.Store
	Bot          BotConfigView
	Bus          *events.Bus
	NodeConfig   map[string]any
	TradeWriter  *persistence.BatchWriter
}

// Node is the plugin protocol: metadata plus a pure-ish state
// transformation. Implementations must tolerate context cancellation at
// every suspension point.
type Node interface {
	Metadata() Metadata
	Run(ctx context.Context, pc *PluginContext, state *CycleState) (*CycleState, error)
}

// Constructor builds a Node from its opaque per-workflow-node config.
type Constructor func(config map[string]any) (Node, error)
