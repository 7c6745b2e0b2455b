package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"langtrader-core/internal/pipeline"
	"langtrader-core/pkg/llm"
)

// Engine drives the three-phase debate over a batch of candidate symbols.
// Grounded on original_source's _run_analyst / _run_phase2_parallel /
// _run_risk_manager, lowered from RunnableParallel+with_fallbacks+
// asyncio.wait_for to errgroup.Group+context.WithTimeout.
type Engine struct {
	Cfg       Config
	Chains    map[Role]llm.Chain // per-role routing; falls back to Chains[""] (bot-level default)
	PromptDir string             // prompt template directory; only its name is embedded in the prompt, no file is read
}

func (e *Engine) chainFor(r Role) llm.Chain {
	if c, ok := e.Chains[r]; ok && c != nil {
		return c
	}
	return e.Chains[Role("")]
}

// Run executes phases A, B, C over symbols and returns the synthesized
// BatchDecision. A failure analyzing one symbol drops that symbol rather
// than sinking the whole cycle (spec §4.5 concurrency model).
func (e *Engine) Run(ctx context.Context, symbols []string, tc TradeContext, riskLimits map[string]any) (*pipeline.BatchDecision, map[string]*pipeline.DebateArtifacts, error) {
	artifacts := make(map[string]*pipeline.DebateArtifacts, len(symbols))
	var mu sync.Mutex

	// Phase A: analyst, parallel over symbols.
	analystCtx, cancelA := context.WithTimeout(ctx, e.Cfg.TimeoutPerPhase)
	defer cancelA()
	var gA errgroup.Group
	for _, sym := range symbols {
		sym := sym
		gA.Go(func() error {
			out, usedFallback, err := e.runAnalyst(analystCtx, sym, tc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("debate: analyst failed for %s, dropping symbol: %v", sym, err)
				return nil // do not sink the cycle
			}
			artifacts[sym] = &pipeline.DebateArtifacts{Analyst: out, UsedFallback: usedFallback}
			return nil
		})
	}
	_ = gA.Wait() // analyst errors are absorbed per-symbol above

	survivingSymbols := make([]string, 0, len(artifacts))
	for sym := range artifacts {
		survivingSymbols = append(survivingSymbols, sym)
	}

	// Phase B: bull/bear debate, parallel per symbol; within a symbol the
	// two roles run concurrently each round and see the prior round.
	debateCtx, cancelB := context.WithTimeout(ctx, e.Cfg.TimeoutPerPhase)
	defer cancelB()
	var gB errgroup.Group
	for _, sym := range survivingSymbols {
		sym := sym
		gB.Go(func() error {
			bull, bear, fellBack := e.runDebateRounds(debateCtx, sym, tc, artifacts[sym].Analyst)
			mu.Lock()
			artifacts[sym].BullRounds = bull
			artifacts[sym].BearRounds = bear
			artifacts[sym].UsedFallback = artifacts[sym].UsedFallback || fellBack
			mu.Unlock()
			return nil
		})
	}
	_ = gB.Wait()

	// Phase C: risk manager synthesis over everything gathered so far.
	synthCtx, cancelC := context.WithTimeout(ctx, e.Cfg.TimeoutPerPhase)
	defer cancelC()
	batch, err := e.runSynthesis(synthCtx, survivingSymbols, artifacts, tc, riskLimits)
	if err != nil {
		log.Printf("debate: synthesis failed, using per-symbol fallback decisions: %v", err)
		decisions := make([]pipeline.PortfolioDecision, 0, len(survivingSymbols))
		for _, sym := range survivingSymbols {
			decisions = append(decisions, safeFallbackDecision(sym))
		}
		batch = &pipeline.BatchDecision{Decisions: decisions, StrategyRationale: "fallback: synthesis unavailable"}
	}

	return batch, artifacts, nil
}

func (e *Engine) runAnalyst(ctx context.Context, symbol string, tc TradeContext) (*pipeline.AnalystOutput, bool, error) {
	prompt := e.buildPrompt(RoleAnalyst, map[string]any{"symbol": symbol, "trade_context": tc})
	res, usedFallback, err := e.chainFor(RoleAnalyst).Complete(ctx, llm.Request{
		Prompt: prompt, Schema: analystSchema, Temperature: 0, Timeout: e.Cfg.TimeoutPerPhase,
	})
	if err != nil {
		return nil, usedFallback, fmt.Errorf("analyst(%s): %w", symbol, err)
	}
	var out pipeline.AnalystOutput
	if err := json.Unmarshal(res.Raw, &out); err != nil {
		return nil, usedFallback, fmt.Errorf("analyst(%s): parse structured output: %w", symbol, err)
	}
	if out.Symbol == "" {
		out.Symbol = symbol
	}
	if len(out.KeyLevels) == 0 {
		out.KeyLevels = nil // never an empty collection, per spec §4.5
	}
	return &out, usedFallback, nil
}

func (e *Engine) runDebateRounds(ctx context.Context, symbol string, tc TradeContext, analyst *pipeline.AnalystOutput) (bull, bear []pipeline.TraderSuggestion, usedFallback bool) {
	var prevBull, prevBear *pipeline.TraderSuggestion
	for round := 1; round <= e.Cfg.MaxRounds; round++ {
		var g errgroup.Group
		var thisBull, thisBear pipeline.TraderSuggestion
		g.Go(func() error {
			s, fell, err := e.runTrader(ctx, RoleBull, symbol, round, tc, analyst, prevBear)
			if err != nil {
				s = safeFallbackSuggestion(symbol, string(RoleBull), round)
			}
			usedFallback = usedFallback || fell
			thisBull = s
			return nil
		})
		g.Go(func() error {
			s, fell, err := e.runTrader(ctx, RoleBear, symbol, round, tc, analyst, prevBull)
			if err != nil {
				s = safeFallbackSuggestion(symbol, string(RoleBear), round)
			}
			usedFallback = usedFallback || fell
			thisBear = s
			return nil
		})
		_ = g.Wait()

		bull = append(bull, thisBull)
		bear = append(bear, thisBear)
		prevBull, prevBear = &thisBull, &thisBear
	}
	return bull, bear, usedFallback
}

func (e *Engine) runTrader(ctx context.Context, role Role, symbol string, round int, tc TradeContext, analyst *pipeline.AnalystOutput, opposing *pipeline.TraderSuggestion) (pipeline.TraderSuggestion, bool, error) {
	prompt := e.buildPrompt(role, map[string]any{
		"symbol": symbol, "round": round, "analyst": analyst, "opposing_view": opposing, "trade_context": tc,
	})
	res, usedFallback, err := e.chainFor(role).Complete(ctx, llm.Request{
		Prompt: prompt, Schema: suggestionSchema, Temperature: 0, Timeout: e.Cfg.TimeoutPerPhase,
	})
	if err != nil {
		return pipeline.TraderSuggestion{}, usedFallback, err
	}
	var s pipeline.TraderSuggestion
	if err := json.Unmarshal(res.Raw, &s); err != nil {
		return pipeline.TraderSuggestion{}, usedFallback, fmt.Errorf("%s(%s) round %d: parse: %w", role, symbol, round, err)
	}
	s.Symbol, s.Role, s.Round = symbol, string(role), round
	return s, usedFallback, nil
}

func (e *Engine) runSynthesis(ctx context.Context, symbols []string, artifacts map[string]*pipeline.DebateArtifacts, tc TradeContext, riskLimits map[string]any) (*pipeline.BatchDecision, error) {
	prompt := e.buildPrompt(RoleRiskManager, map[string]any{
		"symbols": symbols, "artifacts": artifacts, "trade_context": tc, "risk_limits": riskLimits,
	})
	res, _, err := e.chainFor(RoleRiskManager).Complete(ctx, llm.Request{
		Prompt: prompt, Schema: batchDecisionSchema, Temperature: 0, Timeout: e.Cfg.TimeoutPerPhase,
	})
	if err != nil {
		return nil, err
	}
	var batch pipeline.BatchDecision
	if err := json.Unmarshal(res.Raw, &batch); err != nil {
		return nil, fmt.Errorf("synthesis: parse structured output: %w", err)
	}
	return &batch, nil
}

// buildPrompt builds the prompt as a header naming the role and
// PromptDir followed by the call's context values as JSON. It does not
// read or render any template file from PromptDir.
func (e *Engine) buildPrompt(role Role, ctx map[string]any) string {
	payload, _ := json.Marshal(ctx)
	return fmt.Sprintf("[role=%s template_dir=%s]\n%s", role, e.PromptDir, payload)
}
