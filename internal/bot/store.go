package bot

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store persists BotConfig rows, backed by the bots table (spec §6.4).
type Store struct {
	db *sql.DB
}

// NewStore wraps a *sql.DB for bot-config persistence.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Load reads one bot's config. Called at least once per cycle (spec
// §4.2 step 1); callers are expected to cache it with a TTL themselves.
func (s *Store) Load(botID string) (*Config, error) {
	var c Config
	var timeframesJSON, ohlcvJSON, indicatorsJSON, weightsJSON, riskJSON string
	var llmID sql.NullString
	var isActive int
	err := s.db.QueryRow(`
		SELECT id, name, display_name, exchange_id, workflow_id, llm_id, trading_mode,
		       cycle_interval_s, max_concurrent_symbols, timeframes, ohlcv_limits,
		       indicator_configs, quant_weights, quant_threshold, risk_limits, last_cycle_id, is_active
		FROM bots WHERE id=?`, botID).Scan(
		&c.ID, &c.Name, &c.DisplayName, &c.ExchangeID, &c.WorkflowID, &llmID, &c.TradingMode,
		&c.CycleIntervalS, &c.MaxConcurrentSymbols, &timeframesJSON, &ohlcvJSON,
		&indicatorsJSON, &weightsJSON, &c.QuantThreshold, &riskJSON, &c.LastCycleID, &isActive,
	)
	if err != nil {
		return nil, fmt.Errorf("load bot %s: %w", botID, err)
	}
	c.LLMID = llmID.String
	c.IsActive = isActive == 1

	if err := json.Unmarshal([]byte(timeframesJSON), &c.Timeframes); err != nil {
		return nil, fmt.Errorf("bot %s timeframes: %w", botID, err)
	}
	if err := json.Unmarshal([]byte(ohlcvJSON), &c.OHLCVLimits); err != nil {
		return nil, fmt.Errorf("bot %s ohlcv_limits: %w", botID, err)
	}
	if c.IndicatorConfigs = map[string]any{}; indicatorsJSON != "" {
		if err := json.Unmarshal([]byte(indicatorsJSON), &c.IndicatorConfigs); err != nil {
			return nil, fmt.Errorf("bot %s indicator_configs: %w", botID, err)
		}
	}
	if err := json.Unmarshal([]byte(weightsJSON), &c.QuantWeights); err != nil {
		return nil, fmt.Errorf("bot %s quant_weights: %w", botID, err)
	}
	if err := json.Unmarshal([]byte(riskJSON), &c.RiskLimits); err != nil {
		return nil, fmt.Errorf("bot %s risk_limits: %w", botID, err)
	}
	return &c, nil
}

// Save upserts a BotConfig row.
func (s *Store) Save(c *Config) error {
	timeframes, err := json.Marshal(c.Timeframes)
	if err != nil {
		return err
	}
	ohlcv, err := json.Marshal(c.OHLCVLimits)
	if err != nil {
		return err
	}
	indicators, err := json.Marshal(c.IndicatorConfigs)
	if err != nil {
		return err
	}
	weights, err := json.Marshal(c.QuantWeights)
	if err != nil {
		return err
	}
	risk, err := json.Marshal(c.RiskLimits)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO bots (
			id, name, display_name, exchange_id, workflow_id, llm_id, trading_mode,
			cycle_interval_s, max_concurrent_symbols, timeframes, ohlcv_limits,
			indicator_configs, quant_weights, quant_threshold, risk_limits, last_cycle_id, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, display_name=excluded.display_name, exchange_id=excluded.exchange_id,
			workflow_id=excluded.workflow_id, llm_id=excluded.llm_id, trading_mode=excluded.trading_mode,
			cycle_interval_s=excluded.cycle_interval_s, max_concurrent_symbols=excluded.max_concurrent_symbols,
			timeframes=excluded.timeframes, ohlcv_limits=excluded.ohlcv_limits,
			indicator_configs=excluded.indicator_configs, quant_weights=excluded.quant_weights,
			quant_threshold=excluded.quant_threshold, risk_limits=excluded.risk_limits,
			is_active=excluded.is_active, updated_at=CURRENT_TIMESTAMP
	`, c.ID, c.Name, c.DisplayName, c.ExchangeID, c.WorkflowID, c.LLMID, c.TradingMode,
		c.CycleIntervalS, c.MaxConcurrentSymbols, string(timeframes), string(ohlcv),
		string(indicators), string(weights), c.QuantThreshold, string(risk), c.LastCycleID, boolToInt(c.IsActive))
	return err
}

// SetLastCycleID advances the durable cycle counter so a restart can
// preserve continuity (spec §4.1 restart).
func (s *Store) SetLastCycleID(botID string, cycleID int64) error {
	_, err := s.db.Exec(`UPDATE bots SET last_cycle_id=? WHERE id=?`, cycleID, botID)
	return err
}

// Delete removes a bot's config row.
func (s *Store) Delete(botID string) error {
	_, err := s.db.Exec(`DELETE FROM bots WHERE id=?`, botID)
	return err
}

// List returns all active bot ids.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM bots WHERE is_active=1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
