package db

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"langtrader-core/pkg/license"
)

// bootstrapOnce guards the in-process fast path; the BEGIN IMMEDIATE
// transaction below is the cross-process advisory lock since SQLite has
// no pg_advisory_lock equivalent.
var bootstrapOnce sync.Once
var bootstrapErr error

// EnsureSchema runs ApplyMigrations at most once per process family.
// It fast-paths by checking whether the core "bots" table already exists
// before taking the single-writer write lock, per spec §4.1/§6.4.
func (d *Database) EnsureSchema() error {
	bootstrapOnce.Do(func() {
		bootstrapErr = d.ensureSchemaLocked()
	})
	return bootstrapErr
}

func (d *Database) ensureSchemaLocked() error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}

	if exists, err := tableExists(d.DB, "bots"); err != nil {
		return fmt.Errorf("schema fast-path probe: %w", err)
	} else if exists {
		log.Println("schema bootstrap: core tables present, skipping")
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("acquire schema advisory lock: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Re-check inside the lock: another process may have raced us.
	if exists, err := tableExistsTx(tx, "bots"); err != nil {
		return fmt.Errorf("schema locked probe: %w", err)
	} else if exists {
		log.Println("schema bootstrap: lost race, core tables already present")
		return tx.Commit()
	}

	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("apply schema under advisory lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema bootstrap: %w", err)
	}

	log.Printf("schema bootstrap: core tables created by %s", bootstrapIdentity())
	return ApplyMigrations(d)
}

// bootstrapIdentity names the machine performing the schema bootstrap in
// the log line above, so a multi-process deployment sharing one SQLite
// file can tell which host won the advisory lock race.
func bootstrapIdentity() string {
	id, err := license.MachineID()
	if err != nil {
		return "unknown-machine"
	}
	return id
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var n string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tableExistsTx(tx *sql.Tx, name string) (bool, error) {
	var n string
	err := tx.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
