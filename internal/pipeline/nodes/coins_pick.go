package nodes

import (
	"context"
	"fmt"

	"langtrader-core/internal/pipeline"
)

var coinsPickMeta = pipeline.Metadata{
	Name: "coins_pick", DisplayName: "Coin Selection", Category: "selection",
	SuggestedOrder: 10,
}

// coinsPick seeds the cycle's candidate symbol set from the first source
// that yields any symbols: an explicit symbols list from node config,
// then the bot's cached coin_selection shortlist, then the symbols of the
// positions already in state.
type coinsPick struct {
	symbols []string
}

func newCoinsPick(config map[string]any) (pipeline.Node, error) {
	n := &coinsPick{}
	if raw, ok := config["symbols"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				n.symbols = append(n.symbols, s)
			}
		}
	}
	return n, nil
}

func (n *coinsPick) Metadata() pipeline.Metadata { return coinsPickMeta }

func (n *coinsPick) Run(ctx context.Context, pc *pipeline.PluginContext, state *pipeline.CycleState) (*pipeline.CycleState, error) {
	symbols := n.symbols
	if len(symbols) == 0 {
		if cached, ok := pc.Cache.Get("coin_selection", state.BotID); ok {
			var list []string
			if err := decodeJSON(cached, &list); err == nil {
				symbols = list
			}
		}
	}
	if len(symbols) == 0 {
		for _, p := range state.Positions {
			symbols = append(symbols, p.Symbol)
		}
	}
	if len(symbols) == 0 {
		return state, pipeline.Fail(pipeline.Fatal, coinsPickMeta.Name, "", fmt.Errorf("no candidate symbols available"))
	}

	maxSymbols := pc.Bot.MaxConcurrentSymbols
	if maxSymbols > 0 && len(symbols) > maxSymbols {
		symbols = symbols[:maxSymbols]
	}
	for _, sym := range symbols {
		state.AddSymbol(sym)
	}
	return state, nil
}
