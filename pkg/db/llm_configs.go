package db

import "fmt"

// LLMConfigRow mirrors spec §6.4's llm_configs row; pkg/llm.Config is
// the adapter-facing shape built from this.
type LLMConfigRow struct {
	ID        string
	Provider  string
	BaseURL   string
	APIKey    string
	ModelName string
}

// LoadLLMConfig reads one llm_configs row by id.
func (d *Database) LoadLLMConfig(id string) (*LLMConfigRow, error) {
	var c LLMConfigRow
	err := d.DB.QueryRow(`
		SELECT id, provider, base_url, api_key, model_name FROM llm_configs WHERE id = ?
	`, id).Scan(&c.ID, &c.Provider, &c.BaseURL, &c.APIKey, &c.ModelName)
	if err != nil {
		return nil, fmt.Errorf("load llm config %s: %w", id, err)
	}
	if d.Crypto != nil {
		if c.APIKey, err = d.Crypto.Decrypt(c.APIKey); err != nil {
			return nil, fmt.Errorf("decrypt api key for llm config %s: %w", id, err)
		}
	}
	return &c, nil
}

// UpsertLLMConfig inserts or replaces an llm_configs row.
func (d *Database) UpsertLLMConfig(c LLMConfigRow) error {
	apiKey := c.APIKey
	if d.Crypto != nil {
		var err error
		if apiKey, err = d.Crypto.Encrypt(apiKey); err != nil {
			return fmt.Errorf("encrypt api key for llm config %s: %w", c.ID, err)
		}
	}
	_, err := d.DB.Exec(`
		INSERT INTO llm_configs (id, provider, base_url, api_key, model_name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider=excluded.provider, base_url=excluded.base_url,
			api_key=excluded.api_key, model_name=excluded.model_name
	`, c.ID, c.Provider, c.BaseURL, apiKey, c.ModelName)
	if err != nil {
		return fmt.Errorf("upsert llm config %s: %w", c.ID, err)
	}
	return nil
}
