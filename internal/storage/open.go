package storage

import (
	"context"
	"errors"
	"strings"

	logx "chapterbot/pkg/logx"
)

// UpdateFunc mutates st in place and reports whether anything changed.
// Returning an error or dirty=false leaves the persisted state untouched.
type UpdateFunc func(st *State) (dirty bool, err error)

// Store is the durable tracker state.
type Store interface {
	// Load returns a snapshot. A missing state is an empty State, not an error.
	Load(ctx context.Context) (State, error)
	// Save replaces the whole state atomically.
	Save(ctx context.Context, st State) error
	// Update runs a serialized load-mutate-save. fn must not block on network I/O.
	Update(ctx context.Context, fn UpdateFunc) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
