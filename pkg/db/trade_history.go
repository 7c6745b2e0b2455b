package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TradeRecord mirrors spec §3 Trade / the trade_history table.
type TradeRecord struct {
	ID         string
	BotID      string
	Symbol     string
	Side       string
	Action     string
	EntryPrice float64
	ExitPrice  sql.NullFloat64
	Amount     float64
	Leverage   float64
	PnLUSD     sql.NullFloat64
	PnLPercent sql.NullFloat64
	FeePaid    sql.NullFloat64
	Status     string // open|closed
	OpenedAt   time.Time
	ClosedAt   sql.NullTime
	CycleID    int64
	OrderID    sql.NullString
}

// InsertTrade opens a new trade_history row. It is idempotent per spec
// §7: a (bot_id, symbol, cycle_id, action) unique constraint means a
// reprocessed cycle does not duplicate a trade; a duplicate insert is
// silently treated as success.
func (d *Database) InsertTrade(t TradeRecord) error {
	_, err := d.DB.Exec(`
		INSERT OR IGNORE INTO trade_history (
			id, bot_id, symbol, side, action, entry_price, amount, leverage,
			status, opened_at, cycle_id, order_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open', ?, ?, ?)
	`, t.ID, t.BotID, t.Symbol, t.Side, t.Action, t.EntryPrice, t.Amount, t.Leverage,
		t.OpenedAt, t.CycleID, t.OrderID)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// CloseTrade marks the open row for (botID, symbol) closed with final PnL.
// Invariant from spec §3: at most one open row per (bot_id, symbol).
func (d *Database) CloseTrade(botID, symbol string, exitPrice, pnlUSD, pnlPct, fee float64, closedAt time.Time) error {
	res, err := d.DB.Exec(`
		UPDATE trade_history
		SET exit_price=?, pnl_usd=?, pnl_percent=?, fee_paid=?, status='closed', closed_at=?
		WHERE bot_id=? AND symbol=? AND status='open'
	`, exitPrice, pnlUSD, pnlPct, fee, closedAt, botID, symbol)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("close trade: no open row for bot=%s symbol=%s", botID, symbol)
	}
	return nil
}

// RecentTrades returns the last N closed trades for a bot, newest first,
// for debate prompt-context injection (spec §4.5).
func (d *Database) RecentTrades(botID string, limit int) ([]TradeRecord, error) {
	rows, err := d.DB.Query(`
		SELECT id, bot_id, symbol, side, action, entry_price, exit_price, amount, leverage,
		       pnl_usd, pnl_percent, fee_paid, status, opened_at, closed_at, cycle_id, order_id
		FROM trade_history
		WHERE bot_id=? AND status='closed'
		ORDER BY closed_at DESC
		LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.BotID, &t.Symbol, &t.Side, &t.Action, &t.EntryPrice, &t.ExitPrice,
			&t.Amount, &t.Leverage, &t.PnLUSD, &t.PnLPercent, &t.FeePaid, &t.Status, &t.OpenedAt,
			&t.ClosedAt, &t.CycleID, &t.OrderID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// WinRateAndStreak aggregates the last N closed trades into a win rate
// and the current consecutive-loss count (spec §4.5 trade-history
// injection, §4.6 consecutive-loss breaker).
func WinRateAndStreak(trades []TradeRecord) (winRate float64, consecutiveLosses int) {
	if len(trades) == 0 {
		return 0, 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnLUSD.Valid && t.PnLUSD.Float64 > 0 {
			wins++
		}
	}
	winRate = float64(wins) / float64(len(trades))

	// trades is newest-first; count the leading run of losses.
	for _, t := range trades {
		if t.PnLUSD.Valid && t.PnLUSD.Float64 < 0 {
			consecutiveLosses++
			continue
		}
		break
	}
	return winRate, consecutiveLosses
}
