package common

import (
	"context"
	"time"
)

// Market is a single tradeable instrument as reported by the venue.
type Market struct {
	Symbol      string
	Base        string
	Quote       string
	MarketType  MarketType
	MinQty      float64
	MaxQty      float64
	StepSize    float64
	TickSize    float64
	MinNotional float64
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Closed   bool // false if this is the currently-forming bar
}

// Ticker is a best-bid/ask/last-price snapshot.
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// OpenInterest reports outstanding futures contracts for a symbol.
type OpenInterest struct {
	Symbol    string
	Value     float64
	Timestamp time.Time
}

// FundingRate reports the current/next funding rate for a perpetual.
type FundingRate struct {
	Symbol      string
	Rate        float64
	NextFunding time.Time
}

// Balance reports available/locked funds for one asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Position mirrors an exchange-reported open position.
type Position struct {
	Symbol        string
	Side          Side
	Qty           float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// Gateway abstracts a trading venue: both market data retrieval and
// order execution, per the full exchange-adapter capability surface.
type Gateway interface {
	// Market data (poll-based)
	LoadMarkets(ctx context.Context) ([]Market, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error)
	FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error)
	FetchBalance(ctx context.Context) ([]Balance, error)
	FetchPositions(ctx context.Context) ([]Position, error)

	// Market data (stream-based); cancel ctx to stop watching.
	WatchTicker(ctx context.Context, symbol string) (<-chan Ticker, error)
	WatchTrades(ctx context.Context, symbol string) (<-chan Fill, error)

	// Execution
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
}
