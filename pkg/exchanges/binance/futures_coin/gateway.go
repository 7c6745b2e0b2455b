package futures_coin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"langtrader-core/pkg/exchanges/common"

	"github.com/gorilla/websocket"
)

func (c *Client) LoadMarkets(ctx context.Context) ([]common.Market, error) {
	body, err := c.doPublic(ctx, "/dapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []map[string]any
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Market, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		m := common.Market{Symbol: s.Symbol, Base: s.BaseAsset, Quote: s.QuoteAsset, MarketType: common.MarketCoinFut}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				m.MinQty = toFloat(f["minQty"])
				m.MaxQty = toFloat(f["maxQty"])
				m.StepSize = toFloat(f["stepSize"])
			case "PRICE_FILTER":
				m.TickSize = toFloat(f["tickSize"])
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]common.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/dapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Candle, 0, len(raw))
	now := time.Now().UnixMilli()
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		closeTimeMs := int64(toFloat(row[6]))
		out = append(out, common.Candle{
			OpenTime: time.UnixMilli(int64(toFloat(row[0]))),
			Open:     toFloat(row[1]),
			High:     toFloat(row[2]),
			Low:      toFloat(row[3]),
			Close:    toFloat(row[4]),
			Volume:   toFloat(row[5]),
			Closed:   now >= closeTimeMs,
		})
	}
	return out, nil
}

func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/dapi/v1/ticker/bookTicker", params)
	if err != nil {
		return common.Ticker{}, err
	}
	var raw []struct {
		Bid string `json:"bidPrice"`
		Ask string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return common.Ticker{}, fmt.Errorf("decode book ticker: %w", err)
	}
	bid, _ := strconv.ParseFloat(raw[0].Bid, 64)
	ask, _ := strconv.ParseFloat(raw[0].Ask, 64)
	return common.Ticker{Symbol: symbol, Bid: bid, Ask: ask, Last: (bid + ask) / 2, Timestamp: time.Now()}, nil
}

func (c *Client) FetchOpenInterest(ctx context.Context, symbol string) (common.OpenInterest, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/dapi/v1/openInterest", params)
	if err != nil {
		return common.OpenInterest{}, err
	}
	var raw struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return common.OpenInterest{}, err
	}
	val, _ := strconv.ParseFloat(raw.OpenInterest, 64)
	return common.OpenInterest{Symbol: symbol, Value: val, Timestamp: time.Now()}, nil
}

func (c *Client) FetchFundingRate(ctx context.Context, symbol string) (common.FundingRate, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/dapi/v1/premiumIndex", params)
	if err != nil {
		return common.FundingRate{}, err
	}
	var raw []struct {
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return common.FundingRate{}, fmt.Errorf("decode premium index: %w", err)
	}
	rate, _ := strconv.ParseFloat(raw[0].LastFundingRate, 64)
	return common.FundingRate{Symbol: symbol, Rate: rate, NextFunding: time.UnixMilli(raw[0].NextFundingTime)}, nil
}

func (c *Client) FetchBalance(ctx context.Context) ([]common.Balance, error) {
	bals, err := c.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]common.Balance, 0, len(bals))
	for _, b := range bals {
		free, _ := strconv.ParseFloat(b.AvailableBalance, 64)
		total, _ := strconv.ParseFloat(b.Balance, 64)
		if total == 0 {
			continue
		}
		out = append(out, common.Balance{Asset: b.Asset, Free: free, Locked: total - free})
	}
	return out, nil
}

func (c *Client) FetchPositions(ctx context.Context) ([]common.Position, error) {
	risks, err := c.GetPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]common.Position, 0, len(risks))
	for _, p := range risks {
		qty, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		lev, _ := strconv.Atoi(p.Leverage)
		side := common.SideBuy
		if qty < 0 {
			side = common.SideSell
		}
		out = append(out, common.Position{
			Symbol: p.Symbol, Side: side, Qty: qty, EntryPrice: entry,
			UnrealizedPnL: upnl, Leverage: lev,
		})
	}
	return out, nil
}

func (c *Client) WatchTicker(ctx context.Context, symbol string) (<-chan common.Ticker, error) {
	return watchCoinFuturesStream(ctx, c.wsHost(), strings.ToLower(symbol)+"@bookTicker", func(msg []byte) (common.Ticker, bool) {
		var raw struct {
			Symbol string      `json:"s"`
			Bid    interface{} `json:"b"`
			Ask    interface{} `json:"a"`
		}
		if json.Unmarshal(msg, &raw) != nil {
			return common.Ticker{}, false
		}
		return common.Ticker{Symbol: raw.Symbol, Bid: toFloat(raw.Bid), Ask: toFloat(raw.Ask), Last: (toFloat(raw.Bid) + toFloat(raw.Ask)) / 2, Timestamp: time.Now()}, true
	})
}

func (c *Client) WatchTrades(ctx context.Context, symbol string) (<-chan common.Fill, error) {
	return watchCoinFuturesStream(ctx, c.wsHost(), strings.ToLower(symbol)+"@aggTrade", func(msg []byte) (common.Fill, bool) {
		var raw struct {
			Symbol   string      `json:"s"`
			Price    interface{} `json:"p"`
			Qty      interface{} `json:"q"`
			BuyerMkr bool        `json:"m"`
		}
		if json.Unmarshal(msg, &raw) != nil {
			return common.Fill{}, false
		}
		side := common.SideBuy
		if raw.BuyerMkr {
			side = common.SideSell
		}
		return common.Fill{Symbol: raw.Symbol, Side: side, Qty: toFloat(raw.Qty), Price: toFloat(raw.Price)}, true
	})
}

func (c *Client) wsHost() string {
	if c.cfg.Testnet {
		return "dstream.binancefuture.com"
	}
	return "dstream.binance.com"
}

func watchCoinFuturesStream[T any](ctx context.Context, host, stream string, parse func([]byte) (T, bool)) (<-chan T, error) {
	u := (&url.URL{Scheme: "wss", Host: host, Path: "/ws/" + stream}).String()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial coin futures ws: %w", err)
	}
	out := make(chan T, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if v, ok := parse(msg); ok {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
