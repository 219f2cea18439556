// Package migrations runs a small hand-rolled migration set against the
// archive's Postgres schema.
package migrations

import (
	"database/sql"
	"fmt"
	"os"
)

// Migration is one forward/backward schema change.
type Migration struct {
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies and rolls back migrations against db.
type Migrator struct {
	db *sql.DB
}

// New creates a Migrator bound to db.
func New(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the migrations bookkeeping table if missing.
func (m *Migrator) Initialize() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// GetAppliedMigrations returns the set of already-applied migration names.
func (m *Migrator) GetAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query(`SELECT name FROM migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "error closing rows: %v\n", cerr)
		}
	}()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) executeMigration(migration *Migration, sqlText, recordQuery string, recordArgs ...interface{}) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			fmt.Fprintf(os.Stderr, "warning: failed to rollback transaction: %v\n", err)
		}
	}()

	if _, err := tx.Exec(sqlText); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", migration.Name, err)
	}
	if _, err := tx.Exec(recordQuery, recordArgs...); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
	}
	return tx.Commit()
}

// ApplyMigration applies one migration and records it.
func (m *Migrator) ApplyMigration(migration *Migration) error {
	return m.executeMigration(migration, migration.UpSQL,
		"INSERT INTO migrations (name) VALUES ($1)", migration.Name)
}

// RollbackMigration reverses one migration and removes its record.
func (m *Migrator) RollbackMigration(migration *Migration) error {
	return m.executeMigration(migration, migration.DownSQL,
		"DELETE FROM migrations WHERE name = $1", migration.Name)
}

// Migrate applies every migration in order that has not already run.
func (m *Migrator) Migrate(list []*Migration) error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	for _, migration := range list {
		if !applied[migration.Name] {
			if err := m.ApplyMigration(migration); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
			}
			fmt.Printf("Applied migration: %s\n", migration.Name)
		}
	}
	return nil
}

// Rollback reverses the most recently applied migration in list.
func (m *Migrator) Rollback(list []*Migration) error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	var last *Migration
	for i := len(list) - 1; i >= 0; i-- {
		if applied[list[i].Name] {
			last = list[i]
			break
		}
	}
	if last == nil {
		return fmt.Errorf("no migrations to rollback")
	}
	if err := m.RollbackMigration(last); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", last.Name, err)
	}
	fmt.Printf("Rolled back migration: %s\n", last.Name)
	return nil
}
