package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/autoassist/pkg/store"
)

// Store implements store.AgentStore using SQLite. Each assistant is one row
// holding its JSON document; SaveAll replaces every row in one transaction.
type Store struct {
	db *sql.DB
	*store.Broadcaster
}

// Verify interface compliance at compile time.
var (
	_ store.AgentStore = (*Store)(nil)
	_ store.Watcher    = (*Store)(nil)
)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, Broadcaster: store.NewBroadcaster()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assistants (
		id INTEGER PRIMARY KEY,
		position INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_assistants_position ON assistants(position);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadAll returns every assistant ordered by position.
func (s *Store) LoadAll(ctx context.Context) ([]store.Assistant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM assistants ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assistants := []store.Assistant{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a store.Assistant
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("%w: decode assistant: %w", store.ErrCorrupt, err)
		}
		assistants = append(assistants, a)
	}
	return assistants, rows.Err()
}

// SaveAll replaces the collection.
func (s *Store) SaveAll(ctx context.Context, assistants []store.Assistant) error {
	prev, err := s.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("read previous assistants: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assistants`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assistants (id, position, title, data, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, a := range assistants {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode assistant %d: %w", a.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, a.ID, i, a.Title, string(data), a.UpdatedAt); err != nil {
			return fmt.Errorf("insert assistant %d: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.PublishChanged(prev, assistants)
	return nil
}
