// Package binance composes the lower-level spot execution client and
// market-data client into a single common.Gateway implementation.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"langtrader-core/pkg/exchanges/common"
	market "langtrader-core/pkg/market/binance"

	spot "langtrader-core/pkg/exchanges/binance/spot"
)

// Gateway fuses execution (spot.Client) and market data (market.MarketDataClient
// / market.StreamClient) behind the common.Gateway capability surface.
type Gateway struct {
	exec   *spot.Client
	data   *market.MarketDataClient
	stream *market.StreamClient
}

func NewGateway(cfg spot.Config) *Gateway {
	return &Gateway{
		exec:   spot.New(cfg),
		data:   market.NewMarketDataClient(cfg.Testnet),
		stream: market.NewStreamClient(cfg.Testnet),
	}
}

func (g *Gateway) LoadMarkets(ctx context.Context) ([]common.Market, error) {
	raw, err := g.data.ExchangeInfo(ctx, "")
	if err != nil {
		return nil, err
	}
	symbolsRaw, ok := raw["symbols"].([]any)
	if !ok {
		return nil, fmt.Errorf("binance: unexpected exchangeInfo shape")
	}
	markets := make([]common.Market, 0, len(symbolsRaw))
	for _, s := range symbolsRaw {
		sm, ok := s.(map[string]any)
		if !ok {
			continue
		}
		m := common.Market{
			Symbol:     fmt.Sprint(sm["symbol"]),
			Base:       fmt.Sprint(sm["baseAsset"]),
			Quote:      fmt.Sprint(sm["quoteAsset"]),
			MarketType: common.MarketSpot,
		}
		if filters, ok := sm["filters"].([]any); ok {
			for _, f := range filters {
				fm, ok := f.(map[string]any)
				if !ok {
					continue
				}
				switch fm["filterType"] {
				case "LOT_SIZE":
					m.MinQty = parseFloatAny(fm["minQty"])
					m.MaxQty = parseFloatAny(fm["maxQty"])
					m.StepSize = parseFloatAny(fm["stepSize"])
				case "PRICE_FILTER":
					m.TickSize = parseFloatAny(fm["tickSize"])
				case "MIN_NOTIONAL", "NOTIONAL":
					m.MinNotional = parseFloatAny(fm["minNotional"])
				}
			}
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func (g *Gateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]common.Candle, error) {
	raw, err := g.data.Klines(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	out := make([]common.Candle, 0, len(raw))
	for _, row := range raw {
		arr, ok := row.([]any)
		if !ok || len(arr) < 7 {
			continue
		}
		openTimeMs, _ := arr[0].(float64)
		closeTimeMs, _ := arr[6].(float64)
		out = append(out, common.Candle{
			OpenTime: time.UnixMilli(int64(openTimeMs)),
			Open:     parseFloatAny(arr[1]),
			High:     parseFloatAny(arr[2]),
			Low:      parseFloatAny(arr[3]),
			Close:    parseFloatAny(arr[4]),
			Volume:   parseFloatAny(arr[5]),
			Closed:   time.Now().UnixMilli() >= int64(closeTimeMs),
		})
	}
	return out, nil
}

func (g *Gateway) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	depth, err := g.data.Depth(ctx, symbol, 5)
	if err != nil {
		return common.Ticker{}, err
	}
	var bid, ask float64
	if bids, ok := depth["bids"].([]any); ok && len(bids) > 0 {
		if row, ok := bids[0].([]any); ok && len(row) > 0 {
			bid = parseFloatAny(row[0])
		}
	}
	if asks, ok := depth["asks"].([]any); ok && len(asks) > 0 {
		if row, ok := asks[0].([]any); ok && len(row) > 0 {
			ask = parseFloatAny(row[0])
		}
	}
	last := bid
	if ask > 0 {
		last = (bid + ask) / 2
	}
	return common.Ticker{Symbol: symbol, Last: last, Bid: bid, Ask: ask, Timestamp: time.Now()}, nil
}

// FetchOpenInterest is not exposed by Binance spot; futures gateways override this.
func (g *Gateway) FetchOpenInterest(ctx context.Context, symbol string) (common.OpenInterest, error) {
	return common.OpenInterest{}, fmt.Errorf("binance spot: open interest not applicable for %s", symbol)
}

// FetchFundingRate is futures-only; spot gateway has no funding rate.
func (g *Gateway) FetchFundingRate(ctx context.Context, symbol string) (common.FundingRate, error) {
	return common.FundingRate{}, fmt.Errorf("binance spot: funding rate not applicable for %s", symbol)
}

func (g *Gateway) FetchBalance(ctx context.Context) ([]common.Balance, error) {
	info, err := g.exec.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]common.Balance, 0, len(info.Balances))
	for _, b := range info.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, common.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// FetchPositions: spot has no leveraged positions; an empty slice is the
// correct answer.
func (g *Gateway) FetchPositions(ctx context.Context) ([]common.Position, error) {
	return nil, nil
}

func (g *Gateway) WatchTicker(ctx context.Context, symbol string) (<-chan common.Ticker, error) {
	raw, stop, err := g.stream.SubscribeTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make(chan common.Ticker, 32)
	go func() {
		defer stop()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-raw:
				if !ok {
					return
				}
				out <- common.Ticker{Symbol: t.Symbol, Last: t.Price, Timestamp: time.UnixMilli(t.Time)}
			}
		}
	}()
	return out, nil
}

func (g *Gateway) WatchTrades(ctx context.Context, symbol string) (<-chan common.Fill, error) {
	raw, stop, err := g.stream.SubscribeTrades(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make(chan common.Fill, 32)
	go func() {
		defer stop()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-raw:
				if !ok {
					return
				}
				side := common.SideBuy
				if t.IsBuyerMaker {
					side = common.SideSell
				}
				out <- common.Fill{Symbol: t.Symbol, Side: side, Qty: t.Qty, Price: t.Price}
			}
		}
	}()
	return out, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	return g.exec.SubmitOrder(ctx, req)
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	return g.exec.CancelOrder(ctx, symbol, exchangeOrderID)
}

func parseFloatAny(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}
