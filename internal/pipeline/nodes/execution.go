package nodes

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"langtrader-core/internal/pipeline"
	"langtrader-core/pkg/db"
	exchange "langtrader-core/pkg/exchanges/common"
)

var executionMeta = pipeline.Metadata{
	Name: "execution", DisplayName: "Execution", Category: "execution",
	SuggestedOrder: 60,
}

// execution turns a screened PortfolioDecision into an order. In paper
// mode the venue is not contacted: the node records a filled order under
// a "paper-" order id, with no slippage or fees applied. Every other mode
// submits through pc.Gateway. Before submitting an open, the node skips a
// (cycle_id, symbol, action) that already has a trade_history row, and
// the row itself is written with INSERT OR IGNORE, so a cycle re-run
// after a crash does not open the same position twice. Rows still
// buffered in the TradeWriter are not visible to that check, and closes
// are not de-duplicated.
type execution struct{}

func newExecutionNode(config map[string]any) (pipeline.Node, error) {
	return &execution{}, nil
}

func (n *execution) Metadata() pipeline.Metadata { return executionMeta }

func (n *execution) Run(ctx context.Context, pc *pipeline.PluginContext, state *pipeline.CycleState) (*pipeline.CycleState, error) {
	database := &db.Database{DB: pc.DB}

	for _, symbol := range state.ActiveSymbols() {
		run := state.Symbols[symbol]
		d := run.Decision
		if d == nil || d.Action == "wait" || d.Action == "skip" {
			continue
		}

		if d.Action != "close" && pc.DB != nil {
			var seen int
			if err := pc.DB.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM trade_history WHERE bot_id = ? AND cycle_id = ? AND symbol = ? AND action = ?`,
				state.BotID, state.CycleID, symbol, d.Action).Scan(&seen); err == nil && seen > 0 {
				continue
			}
		}

		release, err := pc.Limiter.Acquire(ctx)
		if err != nil {
			state.AddError(executionMeta.Name, symbol, "transient", "rate limiter: "+err.Error())
			continue
		}

		req, err := buildOrderRequest(symbol, d, positionSideOf(state, symbol))
		if err != nil {
			release()
			run.Execution = &pipeline.ExecutionResult{Submitted: false, Error: err.Error()}
			continue
		}

		var res exchange.OrderResult
		if pc.Bot.TradingMode == pipeline.ModePaper {
			res = exchange.OrderResult{ExchangeOrderID: "paper-" + req.ClientID, Status: exchange.StatusFilled}
		} else {
			res, err = pc.Gateway.SubmitOrder(ctx, req)
		}
		release()
		if err != nil {
			run.Execution = &pipeline.ExecutionResult{Submitted: false, Error: err.Error()}
			state.AddError(executionMeta.Name, symbol, "transient", "submit order: "+err.Error())
			continue
		}

		run.Execution = &pipeline.ExecutionResult{Submitted: true, OrderID: res.ExchangeOrderID}

		if d.Action == "close" {
			if err := closeTrade(database, state.BotID, symbol, currentMarkPrice(state, symbol)); err != nil {
				log.Printf("execution: close trade record for %s: %v", symbol, err)
			}
			continue
		}

		record := db.TradeRecord{
			ID:         fmt.Sprintf("%s-%d-%s", state.BotID, state.CycleID, symbol),
			BotID:      state.BotID,
			Symbol:     symbol,
			Side:       d.Action,
			Action:     d.Action,
			EntryPrice: currentMarkPrice(state, symbol),
			Amount:     d.AllocationPct * state.Balance.Available,
			Leverage:   d.Leverage,
			OpenedAt:   time.Now(),
			CycleID:    state.CycleID,
			OrderID:    sql.NullString{String: res.ExchangeOrderID, Valid: res.ExchangeOrderID != ""},
		}
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if pc.TradeWriter != nil {
			pc.TradeWriter.WriteQuery(`
				INSERT OR IGNORE INTO trade_history (
					id, bot_id, symbol, side, action, entry_price, amount, leverage,
					status, opened_at, cycle_id, order_id
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open', ?, ?, ?)
			`, record.ID, record.BotID, record.Symbol, record.Side, record.Action,
				record.EntryPrice, record.Amount, record.Leverage, record.OpenedAt,
				record.CycleID, record.OrderID)
		} else if err := database.InsertTrade(record); err != nil {
			log.Printf("execution: insert trade record for %s: %v", symbol, err)
		}
	}

	return state, nil
}

func buildOrderRequest(symbol string, d *pipeline.PortfolioDecision, openPositionSide string) (exchange.OrderRequest, error) {
	var side exchange.Side
	positionSide := "LONG"
	switch d.Action {
	case "long":
		side = exchange.SideBuy
	case "short":
		side, positionSide = exchange.SideSell, "SHORT"
	case "close":
		// closing exits the opposite direction of the held position.
		if openPositionSide == "short" {
			side, positionSide = exchange.SideBuy, "SHORT"
		} else {
			side, positionSide = exchange.SideSell, "LONG"
		}
	default:
		return exchange.OrderRequest{}, fmt.Errorf("unsupported action %q", d.Action)
	}

	return exchange.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		Type:         exchange.OrderTypeMarket,
		Qty:          d.AllocationPct,
		ClientID:     uuid.NewString(),
		ReduceOnly:   d.Action == "close",
		Market:       exchange.MarketUSDTFut,
		Leverage:     int(d.Leverage),
		PositionSide: positionSide,
	}, nil
}

func positionSideOf(state *pipeline.CycleState, symbol string) string {
	for _, p := range state.Positions {
		if p.Symbol == symbol {
			return p.Side
		}
	}
	return ""
}

func currentMarkPrice(state *pipeline.CycleState, symbol string) float64 {
	for _, p := range state.Positions {
		if p.Symbol == symbol {
			return p.MarkPrice
		}
	}
	return 0
}

func closeTrade(database *db.Database, botID, symbol string, markPrice float64) error {
	return database.CloseTrade(botID, symbol, markPrice, 0, 0, 0, time.Now())
}
