package historystore

import (
	"database/sql"
	"errors"
	"fmt"
)

const schemaVersion = 1

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'tool')),
  content TEXT NOT NULL,
  tool_name TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, id);
CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at_unix_ms);

CREATE TABLE IF NOT EXISTS notes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL,
  title TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_user_updated ON notes(user_id, updated_at_unix_ms DESC);

CREATE TABLE IF NOT EXISTS pending_actions (
  user_id INTEGER PRIMARY KEY,
  action_id TEXT NOT NULL,
  token TEXT NOT NULL,
  tool_calls_json TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL
);
`

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'tool')),
  content TEXT NOT NULL,
  tool_name TEXT NOT NULL DEFAULT '',
  created_at_unix_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, id);
CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at_unix_ms);

CREATE TABLE IF NOT EXISTS notes (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  title TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at_unix_ms BIGINT NOT NULL,
  updated_at_unix_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_user_updated ON notes(user_id, updated_at_unix_ms DESC);

CREATE TABLE IF NOT EXISTS pending_actions (
  user_id BIGINT PRIMARY KEY,
  action_id TEXT NOT NULL,
  token TEXT NOT NULL,
  tool_calls_json TEXT NOT NULL,
  created_at_unix_ms BIGINT NOT NULL
);
`

func (s *Store) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("nil db")
	}
	v, err := s.readVersion()
	if err != nil {
		return err
	}
	if v >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ddl := sqliteSchemaV1
	if s.dialect == DriverPostgres {
		ddl = postgresSchemaV1
	}
	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("apply schema v%d: %w", schemaVersion, err)
	}
	if err := s.writeVersion(tx, schemaVersion); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) readVersion() (int, error) {
	var v int
	if s.dialect == DriverPostgres {
		if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return 0, fmt.Errorf("create schema_version: %w", err)
		}
		err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
		if err != nil {
			return 0, fmt.Errorf("read schema_version: %w", err)
		}
		return v, nil
	}
	if err := s.db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, fmt.Errorf("pragma user_version: %w", err)
	}
	return v, nil
}

func (s *Store) writeVersion(tx *sql.Tx, v int) error {
	if s.dialect == DriverPostgres {
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, v)
		return err
	}
	_, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, v))
	return err
}
