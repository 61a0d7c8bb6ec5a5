package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	logx "chapterbot/pkg/logx"
)

const lockRetryDelay = 20 * time.Millisecond

// fileStore keeps the whole state in one JSON document.
//
// Saves write a sibling temp file, fsync it and rename it over the target, so
// a reader sees either the old or the new document, never a partial one.
//
// Writers also hold an advisory lock on path+".lock", so a second process on
// the same file (the CLI next to a running bot) cannot lose updates.
type fileStore struct {
	log  logx.Logger
	path string
	lock *flock.Flock

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, lock: flock.New(path + ".lock")}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Unlock()
}

// lockFile takes the cross-process lock. mu must be held.
func (s *fileStore) lockFile(ctx context.Context) (func(), error) {
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock state %s: %w", s.lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("lock state %s: not acquired", s.lock.Path())
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("state unlock failed", logx.String("lock", s.lock.Path()), logx.Err(err))
		}
	}, nil
}

func (s *fileStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrClosed
	}
	return s.loadLocked(ctx)
}

func (s *fileStore) Save(ctx context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	unlock, err := s.lockFile(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.saveLocked(ctx, st)
}

func (s *fileStore) Update(ctx context.Context, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	unlock, err := s.lockFile(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	dirty, err := fn(&st)
	if err != nil || !dirty {
		return err
	}
	return s.saveLocked(ctx, st)
}

func (s *fileStore) loadLocked(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state %s: %w", s.path, err)
	}
	st, err := decodeState(b)
	if err != nil {
		return State{}, fmt.Errorf("load state %s: %w", s.path, err)
	}
	return st, nil
}

func (s *fileStore) saveLocked(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeState(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("save state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("save state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("save state: %w", err)
	}

	// Make the rename itself durable. Not every platform supports syncing a directory.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			s.log.Debug("state dir sync failed", logx.String("dir", dir), logx.Err(err))
		}
		_ = d.Close()
	}
	return nil
}
