package nodes

import (
	"context"
	"log"
	"time"

	"langtrader-core/internal/debate"
	"langtrader-core/internal/pipeline"
	"langtrader-core/pkg/db"
	"langtrader-core/pkg/llm"
)

var debateMeta = pipeline.Metadata{
	Name: "debate", DisplayName: "AI Debate", Category: "decision",
	SuggestedOrder: 40, RequiresLLM: true,
}

type debateNode struct {
	cfg debate.Config
}

func newDebateNode(config map[string]any) (pipeline.Node, error) {
	cfg := debate.DefaultConfig()
	if v, ok := config["max_rounds"].(float64); ok && v > 0 {
		cfg.MaxRounds = int(v)
	}
	if v, ok := config["timeout_per_phase_s"].(float64); ok && v > 0 {
		cfg.TimeoutPerPhase = time.Duration(v) * time.Second
	}
	if v, ok := config["trade_history_limit"].(float64); ok && v > 0 {
		cfg.TradeHistoryLimit = int(v)
	}
	return &debateNode{cfg: cfg}, nil
}

func (n *debateNode) Metadata() pipeline.Metadata { return debateMeta }

func (n *debateNode) Run(ctx context.Context, pc *pipeline.PluginContext, state *pipeline.CycleState) (*pipeline.CycleState, error) {
	symbols := state.ActiveSymbols()
	if len(symbols) == 0 {
		return state, nil
	}

	tc := buildTradeContext(pc, state.BotID, n.cfg.TradeHistoryLimit)

	chains := buildRoleChains(pc)
	for _, c := range chains {
		llm.Reset(c)
	}
	engine := &debate.Engine{
		Cfg:    n.cfg,
		Chains: chains,
	}

	batch, artifacts, err := engine.Run(ctx, symbols, tc, pc.Bot.RiskLimits)
	if err != nil {
		return state, pipeline.Fail(pipeline.Fatal, debateMeta.Name, "", err)
	}

	for sym, art := range artifacts {
		if run, ok := state.Symbols[sym]; ok {
			run.Debate = art
		}
	}
	for _, d := range batch.Decisions {
		d := d
		if run, ok := state.Symbols[d.Symbol]; ok {
			run.Decision = &d
		} else {
			log.Printf("debate: decision for unknown symbol %s, dropping", d.Symbol)
		}
	}
	return state, nil
}

// buildRoleChains maps the bot's per-role LLM routing onto debate.Role
// keys, with the empty Role carrying the bot-level default chain.
func buildRoleChains(pc *pipeline.PluginContext) map[debate.Role]llm.Chain {
	chains := map[debate.Role]llm.Chain{debate.Role(""): pc.LLM}
	for role, chain := range pc.RoleLLM {
		chains[debate.Role(role)] = chain
	}
	return chains
}

func buildTradeContext(pc *pipeline.PluginContext, botID string, limit int) debate.TradeContext {
	if pc.DB == nil {
		return debate.TradeContext{}
	}
	d := &db.Database{DB: pc.DB}
	trades, err := d.RecentTrades(botID, limit)
	if err != nil {
		log.Printf("debate: recent trades lookup failed: %v", err)
		return debate.TradeContext{}
	}
	winRate, consecLosses := db.WinRateAndStreak(trades)

	summaries := make([]debate.TradeSummary, 0, len(trades))
	for _, t := range trades {
		pnlPct := 0.0
		if t.PnLPercent.Valid {
			pnlPct = t.PnLPercent.Float64
		}
		closedAt := ""
		if t.ClosedAt.Valid {
			closedAt = t.ClosedAt.Time.Format(time.RFC3339)
		}
		summaries = append(summaries, debate.TradeSummary{
			Symbol: t.Symbol, Side: t.Side, PnLPercent: pnlPct, ClosedAt: closedAt,
		})
	}
	return debate.TradeContext{RecentTrades: summaries, WinRate: winRate, ConsecutiveLosses: consecLosses}
}
