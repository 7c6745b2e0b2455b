package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"langtrader-core/internal/indicators"
	"langtrader-core/internal/pipeline"
)

var marketStateMeta = pipeline.Metadata{
	Name: "market_state", DisplayName: "Market State", Category: "ingestion",
	SuggestedOrder: 20,
}

// marketState fetches OHLCV per timeframe for every active symbol
// through the rate-limited gateway + cache, and computes the indicator
// snapshot for quant_filter to score.
type marketState struct {
	engines sync.Map // symbol -> *indicators.Engine
}

func newMarketState(config map[string]any) (pipeline.Node, error) {
	return &marketState{}, nil
}

func (n *marketState) Metadata() pipeline.Metadata { return marketStateMeta }

func ohlcvNamespace(timeframe string) string {
	switch timeframe {
	case "3m":
		return "ohlcv_3m"
	case "4h":
		return "ohlcv_4h"
	default:
		return "ohlcv"
	}
}

func (n *marketState) Run(ctx context.Context, pc *pipeline.PluginContext, state *pipeline.CycleState) (*pipeline.CycleState, error) {
	timeframes := pc.Bot.Timeframes
	if len(timeframes) == 0 {
		timeframes = []string{"1h"}
	}

	for _, symbol := range state.ActiveSymbols() {
		run := state.Symbols[symbol]
		run.Indicators = pipeline.Indicators{}

		var lastClose float64
		fetched := false
		for _, tf := range timeframes {
			limit := pc.Bot.OHLCVLimits[tf]
			if limit <= 0 {
				limit = 100
			}
			ns := ohlcvNamespace(tf)
			cacheKey := symbol + ":" + tf

			var payload []byte
			if cached, ok := pc.Cache.Get(ns, cacheKey); ok {
				payload = cached
			} else {
				release, err := pc.Limiter.Acquire(ctx)
				if err != nil {
					state.AddError(marketStateMeta.Name, symbol, "transient", err.Error())
					continue
				}
				candles, err := pc.Gateway.FetchOHLCV(ctx, symbol, tf, limit)
				release()
				if err != nil {
					state.AddError(marketStateMeta.Name, symbol, "transient", fmt.Sprintf("fetch ohlcv %s %s: %v", symbol, tf, err))
					continue
				}
				encoded, err := json.Marshal(candles)
				if err != nil {
					continue
				}
				pc.Cache.Set(ns, cacheKey, encoded, 0)
				payload = encoded
			}

			var candles []struct {
				Close float64 `json:"Close"`
			}
			if err := decodeJSON(payload, &candles); err != nil || len(candles) == 0 {
				continue
			}
			lastClose = candles[len(candles)-1].Close
			fetched = true
		}

		if !fetched {
			run.Dropped = true
			run.DropReason = "no market data"
			continue
		}

		engineAny, _ := n.engines.LoadOrStore(symbol, indicators.NewEngine(10, 50, 14, 200))
		engine := engineAny.(*indicators.Engine)
		for k, v := range engine.Update(symbol, lastClose) {
			run.Indicators[k] = v
		}
	}

	return state, nil
}
