package nodes

import (
	"context"
	"log"
	"math"

	"langtrader-core/internal/pipeline"
	"langtrader-core/internal/risk"
)

var riskMonitorMeta = pipeline.Metadata{
	Name: "risk_monitor", DisplayName: "Risk Monitor", Category: "risk",
	SuggestedOrder: 50,
}

// riskMonitor applies the bot's closed-form risk_limits to every debate
// decision before execution: exposure caps, leverage rules, sizing
// bounds, risk-reward screening, funding-rate guard, account breakers,
// and trailing-stop proposals for already-open positions. The checks are
// read from the per-bot risk_limits map; trailing stops use
// internal/risk's StopLossManager.
type riskMonitor struct {
	stops *risk.StopLossManager
}

func newRiskMonitor(config map[string]any) (pipeline.Node, error) {
	return &riskMonitor{stops: risk.NewStopLossManager()}, nil
}

func (n *riskMonitor) Metadata() pipeline.Metadata { return riskMonitorMeta }

func (n *riskMonitor) Run(ctx context.Context, pc *pipeline.PluginContext, state *pipeline.CycleState) (*pipeline.CycleState, error) {
	limits := pc.Bot.RiskLimits

	n.applyBreakers(state, limits)

	if state.Paused {
		for _, run := range state.Symbols {
			if run.Decision != nil && run.Decision.Action != "wait" {
				run.Decision.Action = "wait"
				run.Decision.SkipReason = state.PauseReason
			}
		}
	} else {
		n.screenDecisions(ctx, pc, state, limits)
	}

	n.applyTrailingStops(state, limits)

	return state, nil
}

// applyBreakers evaluates account-wide circuit breakers (spec §4.6) and
// pauses the cycle's trading decisions when tripped. The pause applies
// to this cycle's decisions only; each cycle starts from a fresh
// CycleState and evaluates the breakers again.
func (n *riskMonitor) applyBreakers(state *pipeline.CycleState, limits map[string]any) {
	if state.Paused {
		return
	}

	maxConsecLosses := getInt(limits, "max_consecutive_losses", 0)
	if getBool(limits, "pause_on_consecutive_loss", false) && maxConsecLosses > 0 &&
		state.Performance.ConsecutiveLosses >= maxConsecLosses {
		state.Paused = true
		state.PauseReason = "consecutive loss breaker tripped"
		return
	}

	maxDrawdown := getFloat(limits, "max_drawdown_pct", 0)
	if getBool(limits, "pause_on_max_drawdown", false) && maxDrawdown > 0 &&
		state.Performance.DrawdownPct >= maxDrawdown {
		state.Paused = true
		state.PauseReason = "max drawdown breaker tripped"
		return
	}

	maxDailyLoss := getFloat(limits, "max_daily_loss_pct", 0)
	if getBool(limits, "hard_stop_enabled", false) && maxDailyLoss > 0 &&
		state.Performance.DailyPnLPct <= -maxDailyLoss {
		state.Paused = true
		state.PauseReason = "daily loss hard stop tripped"
	}
}

// screenDecisions applies exposure, leverage, sizing, risk-reward, and
// funding-rate checks to every symbol's debate decision.
func (n *riskMonitor) screenDecisions(ctx context.Context, pc *pipeline.PluginContext, state *pipeline.CycleState, limits map[string]any) {
	maxTotalPct := getFloat(limits, "max_total_allocation_pct", 1.0)
	maxSinglePct := getFloat(limits, "max_single_allocation_pct", maxTotalPct)
	maxLeverage := getFloat(limits, "max_leverage", 1.0)
	defaultLeverage := getFloat(limits, "default_leverage", 1.0)
	allowDefaultLeverage := getBool(limits, "allow_default_leverage", false)
	minSizeUSD := getFloat(limits, "min_position_size_usd", 0)
	maxSizeUSD := getFloat(limits, "max_position_size_usd", math.MaxFloat64)
	minRR := getFloat(limits, "min_risk_reward_ratio", 0)
	fundingCheck := getBool(limits, "funding_rate_check_enabled", false)
	maxFundingPct := getFloat(limits, "max_funding_rate_pct", 1.0)

	type active struct {
		symbol string
		run    *pipeline.SymbolRun
	}
	var live []active

	for _, symbol := range state.ActiveSymbols() {
		run := state.Symbols[symbol]
		d := run.Decision
		if d == nil || d.Action == "wait" || d.Action == "skip" {
			continue
		}

		if d.AllocationPct > maxSinglePct {
			d.Action, d.SkipReason = "skip", "per-symbol allocation exceeded"
			continue
		}

		if d.Leverage <= 0 {
			if !allowDefaultLeverage {
				d.Action, d.SkipReason = "skip", "no leverage specified and default leverage not allowed"
				continue
			}
			d.Leverage = defaultLeverage
		}
		if d.Leverage > maxLeverage {
			d.Leverage = maxLeverage
		}

		if d.StopLossPct > 0 && minRR > 0 {
			rr := d.TakeProfitPct / d.StopLossPct
			if rr < minRR {
				d.Action, d.SkipReason = "skip", "risk-reward below minimum"
				continue
			}
		}

		notional := d.AllocationPct * state.Balance.Available
		if notional < minSizeUSD {
			d.Action, d.SkipReason = "skip", "position size below minimum"
			continue
		}
		if notional > maxSizeUSD {
			d.Action, d.SkipReason = "skip", "position size above maximum"
			continue
		}

		if fundingCheck {
			fr, err := pc.Gateway.FetchFundingRate(ctx, symbol)
			if err != nil {
				state.AddError(riskMonitorMeta.Name, symbol, "transient", "funding rate lookup failed: "+err.Error())
			} else if math.Abs(fr.Rate) > maxFundingPct {
				d.Action, d.SkipReason = "skip", "funding rate exceeds limit"
				continue
			}
		}

		live = append(live, active{symbol, run})
	}

	var totalPct float64
	for _, a := range live {
		totalPct += a.run.Decision.AllocationPct
	}
	if totalPct > maxTotalPct {
		for _, a := range live {
			a.run.Decision.Action, a.run.Decision.SkipReason = "skip", "total allocation exceeded"
		}
		log.Printf("risk_monitor: rejected %d decisions, total allocation %.4f exceeds max_total_allocation_pct %.4f", len(live), totalPct, maxTotalPct)
	}
}

// applyTrailingStops feeds current mark prices through the shared
// trailing-stop tracker for every already-open position and converts a
// trigger into a close decision.
func (n *riskMonitor) applyTrailingStops(state *pipeline.CycleState, limits map[string]any) {
	if !getBool(limits, "trailing_stop_enabled", false) {
		return
	}
	trigger := getFloat(limits, "trailing_stop_trigger_pct", 0)
	distance := getFloat(limits, "trailing_stop_distance_pct", 0)
	if distance <= 0 {
		return
	}

	for _, pos := range state.Positions {
		run, ok := state.Symbols[pos.Symbol]
		if !ok {
			continue
		}

		side := "LONG"
		if pos.Side == "short" {
			side = "SHORT"
		}

		gainPct := (pos.MarkPrice - pos.EntryPrice) / pos.EntryPrice
		if side == "SHORT" {
			gainPct = -gainPct
		}
		if gainPct < trigger {
			continue
		}

		existing := n.stops.GetPosition(pos.Symbol)
		if existing == nil {
			n.stops.AddPosition(risk.StopLossPosition{
				Symbol: pos.Symbol, Side: side, EntryPrice: pos.EntryPrice,
				TrailingStop: true, TrailingOffset: distance,
			})
		}
		decision := n.stops.UpdatePrice(pos.Symbol, pos.MarkPrice)
		if decision != nil && decision.Triggered {
			run.Decision = &pipeline.PortfolioDecision{
				Symbol: pos.Symbol, Action: "close", Reasoning: decision.Reason,
			}
		}
	}
}
