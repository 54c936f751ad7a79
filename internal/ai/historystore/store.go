package historystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrNilStore = errors.New("nil history store")

// Store persists conversation turns, memory notes and staged confirmations.
//
// Notes:
//   - SQLite runs in WAL mode with a single connection; Postgres uses the pgx stdlib driver.
//   - Queries are written with '?' placeholders and rebound for Postgres.
type Store struct {
	db      *sql.DB
	dialect string
}

type Options struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// Path is the SQLite database file.
	Path string
	// DSN is the Postgres connection string.
	DSN string
}

func Open(opts Options) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverSQLite:
		return openSQLite(opts.Path)
	case DriverPostgres:
		return openPostgres(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}
}

func openSQLite(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("missing db path")
	}
	p = filepath.Clean(p)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	s := &Store{db: db, dialect: DriverSQLite}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	// The database holds private conversations.
	_ = os.Chmod(p, 0o600)
	return s, nil
}

func openPostgres(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("missing postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db, dialect: DriverPostgres}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns the active driver name.
func (s *Store) Dialect() string {
	if s == nil {
		return ""
	}
	return s.dialect
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNilStore
	}
	return s.db.PingContext(ctx)
}

// rebind rewrites '?' placeholders into the numbered form Postgres expects.
func (s *Store) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func nowUnixMs() int64 {
	return time.Now().UnixMilli()
}
