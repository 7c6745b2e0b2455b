package db

import "fmt"

// ExchangeConfig mirrors spec §6.4's exchange registry row.
type ExchangeConfig struct {
	ID           string
	Name         string
	ExchangeType string
	APIKey       string
	APISecret    string
	Testnet      bool
}

// LoadExchange reads one exchange registry row by id.
func (d *Database) LoadExchange(id string) (*ExchangeConfig, error) {
	var e ExchangeConfig
	var testnet int
	err := d.DB.QueryRow(`
		SELECT id, name, exchange_type, api_key, api_secret, testnet
		FROM exchanges WHERE id = ?
	`, id).Scan(&e.ID, &e.Name, &e.ExchangeType, &e.APIKey, &e.APISecret, &testnet)
	if err != nil {
		return nil, fmt.Errorf("load exchange %s: %w", id, err)
	}
	e.Testnet = testnet == 1
	if d.Crypto != nil {
		if e.APIKey, err = d.Crypto.Decrypt(e.APIKey); err != nil {
			return nil, fmt.Errorf("decrypt api key for exchange %s: %w", id, err)
		}
		if e.APISecret, err = d.Crypto.Decrypt(e.APISecret); err != nil {
			return nil, fmt.Errorf("decrypt api secret for exchange %s: %w", id, err)
		}
	}
	return &e, nil
}

// UpsertExchange inserts or replaces an exchange registry row.
func (d *Database) UpsertExchange(e ExchangeConfig) error {
	testnet := 0
	if e.Testnet {
		testnet = 1
	}
	apiKey, apiSecret := e.APIKey, e.APISecret
	if d.Crypto != nil {
		var err error
		if apiKey, err = d.Crypto.Encrypt(apiKey); err != nil {
			return fmt.Errorf("encrypt api key for exchange %s: %w", e.ID, err)
		}
		if apiSecret, err = d.Crypto.Encrypt(apiSecret); err != nil {
			return fmt.Errorf("encrypt api secret for exchange %s: %w", e.ID, err)
		}
	}
	_, err := d.DB.Exec(`
		INSERT INTO exchanges (id, name, exchange_type, api_key, api_secret, testnet)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, exchange_type=excluded.exchange_type,
			api_key=excluded.api_key, api_secret=excluded.api_secret, testnet=excluded.testnet
	`, e.ID, e.Name, e.ExchangeType, apiKey, apiSecret, testnet)
	if err != nil {
		return fmt.Errorf("upsert exchange %s: %w", e.ID, err)
	}
	return nil
}
