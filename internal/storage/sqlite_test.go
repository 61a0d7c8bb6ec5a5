package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "chapterbot/pkg/logx"
)

func TestSQLiteRoundTripAndUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(empty.Tracked) != 0 {
		t.Fatalf("expected empty state, got %+v", empty)
	}

	if err := s.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	boom := errors.New("boom")
	err = s.Update(ctx, func(st *State) (bool, error) {
		st.Tracked = map[string]TrackedItem{}
		return true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() err = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(sampleState()) {
		t.Fatalf("sqlite round trip:\n got %+v\nwant %+v", got, sampleState())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

// cancelMidQuery cancels the first query's context right after it starts, so
// row iteration stops with an error instead of at the end of the table.
type cancelMidQuery struct {
	db    *sql.DB
	calls int
}

func (q *cancelMidQuery) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q.calls++
	if q.calls > 1 {
		return q.db.QueryContext(ctx, query, args...)
	}
	cctx, cancel := context.WithCancel(ctx)
	rows, err := q.db.QueryContext(cctx, query, args...)
	cancel()
	time.Sleep(20 * time.Millisecond)
	return rows, err
}

func TestSQLiteLoadReportsIterationError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	q := &cancelMidQuery{db: s.(*sqliteStore).db}
	st, err := loadRows(ctx, q)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("loadRows() = %+v, %v; want context.Canceled", st, err)
	}
	if q.calls != 1 {
		t.Fatalf("loaded observed after tracked_items failed (%d queries)", q.calls)
	}
}
