package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	logx "chapterbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps tracked items and observations in two tables. Every
// write replaces both tables inside one transaction.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	mu sync.Mutex
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return State{}, ErrClosed
	}
	return loadRows(ctx, s.db)
}

func (s *sqliteStore) Save(ctx context.Context, st State) error {
	return s.Update(ctx, func(cur *State) (bool, error) {
		*cur = st.Clone()
		return true, nil
	})
}

func (s *sqliteStore) Update(ctx context.Context, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st, err := loadRows(ctx, tx)
	if err != nil {
		return err
	}
	dirty, err := fn(&st)
	if err != nil || !dirty {
		return err
	}
	if err := replaceRows(ctx, tx, st); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadRows(ctx context.Context, q querier) (State, error) {
	st := NewState()

	rows, err := q.QueryContext(ctx, `SELECT name, url FROM tracked_items`)
	if err != nil {
		return State{}, fmt.Errorf("load tracked_items: %w", err)
	}
	for rows.Next() {
		var name string
		var it TrackedItem
		if err := rows.Scan(&name, &it.URL); err != nil {
			_ = rows.Close()
			return State{}, fmt.Errorf("%w: tracked_items: %v", ErrCorrupt, err)
		}
		st.Tracked[name] = it
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return State{}, fmt.Errorf("load tracked_items: %w", err)
	}
	if err := rows.Close(); err != nil {
		return State{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT name, date, chapter_label, url FROM observed`)
	if err != nil {
		return State{}, fmt.Errorf("load observed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var v ObservedValue
		if err := rows.Scan(&name, &v.Date, &v.ChapterLabel, &v.URL); err != nil {
			return State{}, fmt.Errorf("%w: observed: %v", ErrCorrupt, err)
		}
		st.Observed[name] = v
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("load observed: %w", err)
	}
	return st, nil
}

func replaceRows(ctx context.Context, tx *sql.Tx, st State) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_items`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM observed`); err != nil {
		return err
	}
	for name, it := range st.Tracked {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tracked_items(name, url) VALUES(?, ?)`, name, it.URL); err != nil {
			return fmt.Errorf("insert tracked %q: %w", name, err)
		}
	}
	for name, v := range st.Observed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO observed(name, date, chapter_label, url) VALUES(?, ?, ?, ?)`,
			name, v.Date, v.ChapterLabel, v.URL,
		); err != nil {
			return fmt.Errorf("insert observed %q: %w", name, err)
		}
	}
	return nil
}
