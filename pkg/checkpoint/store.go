// Package checkpoint persists CycleState snapshots keyed by
// (thread_id, cycle_id, node_name), per spec §4.3/§6.4. A checkpoint once
// written is immutable (P2): rewriting the same key is rejected rather
// than silently overwritten, so "rewinding" always replays the exact
// state the next node saw.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrImmutable is returned when a caller attempts to overwrite an
// existing checkpoint.
var ErrImmutable = errors.New("checkpoint: already written, immutable")

// Store is a SQLite-backed checkpoint table, sharing the process's
// single-writer handle (per pkg/db.Database.SetMaxOpenConns(1)).
type Store struct {
	db *sql.DB
}

// New wraps a *sql.DB for checkpoint storage. The caller is responsible
// for having applied the schema (pkg/db.ApplyMigrations/EnsureSchema).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save writes a checkpoint for (threadID, cycleID, nodeName). It is
// transactional and idempotent on retry: a second Save of byte-identical
// state is a no-op success; a second Save of different state is rejected
// to preserve P2 (checkpoint immutability).
func (s *Store) Save(threadID string, cycleID int64, nodeName string, state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing string
	err = tx.QueryRow(
		`SELECT state_data FROM checkpoints WHERE thread_id=? AND cycle_id=? AND node_name=?`,
		threadID, cycleID, nodeName,
	).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(
			`INSERT INTO checkpoints (thread_id, cycle_id, node_name, state_data) VALUES (?, ?, ?, ?)`,
			threadID, cycleID, nodeName, string(payload),
		); err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		return tx.Commit()
	case err != nil:
		return fmt.Errorf("probe existing checkpoint: %w", err)
	default:
		if existing == string(payload) {
			return tx.Commit() // idempotent retry of the same write
		}
		return ErrImmutable
	}
}

// Load retrieves and unmarshals a checkpoint into dst (a pointer).
func (s *Store) Load(threadID string, cycleID int64, nodeName string, dst any) error {
	var payload string
	err := s.db.QueryRow(
		`SELECT state_data FROM checkpoints WHERE thread_id=? AND cycle_id=? AND node_name=?`,
		threadID, cycleID, nodeName,
	).Scan(&payload)
	if err != nil {
		return fmt.Errorf("load checkpoint %s/%d/%s: %w", threadID, cycleID, nodeName, err)
	}
	return json.Unmarshal([]byte(payload), dst)
}

// NodeNames returns the checkpointed node names for a (threadID, cycleID)
// pair in write order, enabling "time-travel" replay of a cycle.
func (s *Store) NodeNames(threadID string, cycleID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT node_name FROM checkpoints WHERE thread_id=? AND cycle_id=? ORDER BY rowid ASC`,
		threadID, cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint nodes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// LatestCycle returns the highest cycle_id checkpointed for a thread, or
// 0 if none exists. The control plane's debate replay uses it to find
// the most recent cycle.
func (s *Store) LatestCycle(threadID string) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(cycle_id) FROM checkpoints WHERE thread_id=?`, threadID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("latest cycle for %s: %w", threadID, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// ThreadID builds the canonical thread identifier for a bot.
func ThreadID(botID string) string {
	if strings.HasPrefix(botID, "bot_") {
		return botID
	}
	return "bot_" + botID
}
