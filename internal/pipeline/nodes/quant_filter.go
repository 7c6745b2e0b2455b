package nodes

import (
	"context"

	"langtrader-core/internal/pipeline"
)

var quantFilterMeta = pipeline.Metadata{
	Name: "quant_filter", DisplayName: "Quant Filter", Category: "selection",
	SuggestedOrder: 30,
}

// quantFilter scores each symbol's indicator snapshot against the bot's
// weighted quant profile and drops anything below threshold, so the
// debate engine only spends LLM calls on candidates worth debating.
type quantFilter struct{}

func newQuantFilter(config map[string]any) (pipeline.Node, error) {
	return &quantFilter{}, nil
}

func (n *quantFilter) Metadata() pipeline.Metadata { return quantFilterMeta }

func (n *quantFilter) Run(ctx context.Context, pc *pipeline.PluginContext, state *pipeline.CycleState) (*pipeline.CycleState, error) {
	weights := pc.Bot.QuantWeights
	threshold := pc.Bot.QuantThreshold

	for _, symbol := range state.ActiveSymbols() {
		run := state.Symbols[symbol]
		score := scoreSymbol(run.Indicators, weights)
		run.QuantScore = score
		if score < threshold {
			run.Dropped = true
			run.DropReason = "below quant threshold"
		}
	}
	return state, nil
}

// scoreSymbol blends trend (MA crossover), momentum (RSI distance from
// neutral), and volume/sentiment placeholders into a single 0..100 score,
// on the same scale as the bot's quant_threshold.
// Volume and sentiment default to a neutral 0.5 when the market_state
// node didn't populate them (no volume-profile or sentiment source
// wired in yet). Weights come in as the bot's raw quant_weights map
// (trend/momentum/volume/sentiment keys), matching BotConfigView's
// map[string]float64 shape.
func scoreSymbol(ind pipeline.Indicators, weights map[string]float64) float64 {
	if ind == nil {
		return 0
	}

	trend := 0.5
	if short, ok := ind["sma_short"]; ok {
		if long, ok2 := ind["sma_long"]; ok2 && long != 0 {
			diff := (short - long) / long
			trend = clamp01(0.5 + diff*5)
		}
	}

	momentum := 0.5
	if rsi, ok := ind["rsi"]; ok {
		momentum = clamp01(rsi / 100)
	}

	volume := 0.5
	if v, ok := ind["volume_score"]; ok {
		volume = clamp01(v)
	}

	sentiment := 0.5
	if s, ok := ind["sentiment_score"]; ok {
		sentiment = clamp01(s)
	}

	wTrend, wMomentum, wVolume, wSentiment := weights["trend"], weights["momentum"], weights["volume"], weights["sentiment"]
	total := wTrend + wMomentum + wVolume + wSentiment
	if total == 0 {
		return 100 * (trend + momentum + volume + sentiment) / 4
	}
	return 100 * (trend*wTrend + momentum*wMomentum + volume*wVolume + sentiment*wSentiment) / total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
