package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"langtrader-core/pkg/crypto"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps the SQL handle for easier swapping/testing. Crypto is
// optional: when set, exchange and LLM API credentials are encrypted
// at rest (spec §6.4); when nil, LoadExchange/LoadLLMConfig return the
// stored value unchanged, which is only acceptable in local/dev setups
// without MASTER_ENCRYPTION_KEY configured.
type Database struct {
	DB     *sql.DB
	Crypto *crypto.KeyManager
}

// WithCrypto attaches a key manager for encrypting credentials at rest.
func (d *Database) WithCrypto(km *crypto.KeyManager) *Database {
	d.Crypto = km
	return d
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db}, nil
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
