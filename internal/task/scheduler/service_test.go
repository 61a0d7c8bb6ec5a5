package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "chapterbot/pkg/logx"
)

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	if _, err := New("x", Config{}, nil, logx.Nop()); err == nil {
		t.Fatal("nil job accepted")
	}
	if _, err := New("x", Config{Schedule: "garbage"}, func(context.Context) error { return nil }, logx.Nop()); err == nil {
		t.Fatal("bad schedule accepted")
	}
	s, err := New("x", Config{}, func(context.Context) error { return nil }, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if snap := s.Snapshot(); snap.Schedule != "every 30m0s" {
		t.Fatalf("default schedule = %q", snap.Schedule)
	}
}

func TestFirstRunWaitsForReadyAndDelay(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s, err := New("poll", Config{Schedule: "1h", InitialDelay: 30 * time.Millisecond}, func(context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ready := make(chan struct{})
	if err := s.Start(context.Background(), ready); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("ran before transport was ready")
	}

	readyAt := time.Now()
	close(ready)
	waitFor(t, "first run", func() bool { return runs.Load() == 1 })
	if time.Since(readyAt) < 30*time.Millisecond {
		t.Fatal("first run did not honor the settle delay")
	}
	if snap := s.Snapshot(); snap.Next.IsZero() || snap.Runs != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestOverlappingTriggerIsSkipped(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var runs atomic.Int32
	s, _ := New("poll", Config{Schedule: "1h", InitialDelay: time.Millisecond}, func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}, logx.Nop())
	_ = s.Start(context.Background(), closedChan())
	waitFor(t, "startup run", func() bool { return s.Snapshot().Running })

	if s.TriggerNow("manual") {
		t.Fatal("second run started while first was in flight")
	}
	if got := s.Snapshot().Skipped; got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}

	close(release)
	waitFor(t, "run to finish", func() bool { return !s.Snapshot().Running })
	if !s.TriggerNow("manual") {
		t.Fatal("trigger refused after run finished")
	}
	waitFor(t, "manual run", func() bool { return runs.Load() == 2 })
	_ = s.Stop(context.Background())
}

func TestStopDrainsInFlightRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var finished, canceled atomic.Bool
	s, _ := New("poll", Config{Schedule: "1h", InitialDelay: time.Millisecond}, func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		canceled.Store(ctx.Err() != nil)
		finished.Store(true)
		return nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	_ = s.Start(ctx, closedChan())
	<-started
	cancel()

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Stop returned before the run finished")
	}
	if canceled.Load() {
		t.Fatal("shutdown canceled the run context")
	}
	if s.TriggerNow("late") {
		t.Fatal("trigger accepted after Stop")
	}
}

func TestStopDrainTimeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	s, _ := New("poll", Config{Schedule: "1h", InitialDelay: time.Millisecond, DrainTimeout: 20 * time.Millisecond}, func(context.Context) error {
		<-block
		return nil
	}, logx.Nop())
	_ = s.Start(context.Background(), closedChan())
	waitFor(t, "run", func() bool { return s.Snapshot().Running })

	if err := s.Stop(context.Background()); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("Stop err = %v, want ErrDrainTimeout", err)
	}
}

func TestStopBeforeReadyNeverRuns(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s, _ := New("poll", Config{Schedule: "1h", InitialDelay: time.Millisecond}, func(context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop())
	_ = s.Start(context.Background(), make(chan struct{}))
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 0 {
		t.Fatal("job ran without readiness")
	}
}

func TestRunFailureAndPanicAreRecorded(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	s, _ := New("poll", Config{Schedule: "1h", InitialDelay: time.Millisecond}, func(context.Context) error {
		if n.Add(1) == 1 {
			return errors.New("boom")
		}
		panic("kaboom")
	}, logx.Nop())
	_ = s.Start(context.Background(), nil)
	waitFor(t, "failed run", func() bool { return s.Snapshot().Failures == 1 && !s.Snapshot().Running })
	if got := s.Snapshot().LastErr; got != "boom" {
		t.Fatalf("LastErr = %q", got)
	}
	s.TriggerNow("manual")
	waitFor(t, "panicking run", func() bool { return s.Snapshot().Failures == 2 && !s.Snapshot().Running })
	_ = s.Stop(context.Background())
}

func TestApplySwapsSchedule(t *testing.T) {
	t.Parallel()

	s, _ := New("poll", Config{Schedule: "1h", InitialDelay: time.Millisecond}, func(context.Context) error { return nil }, logx.Nop())
	_ = s.Start(context.Background(), nil)
	waitFor(t, "startup run", func() bool { return s.Snapshot().Runs == 1 })

	if err := s.Apply(Config{Schedule: "nope"}); err == nil {
		t.Fatal("bad schedule applied")
	}
	if err := s.Apply(Config{Schedule: "0 3 * * *"}); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.Schedule != "0 3 * * *" {
		t.Fatalf("schedule = %q", snap.Schedule)
	}
	waitFor(t, "next run time", func() bool {
		next := s.Snapshot().Next
		return !next.IsZero() && next.In(time.Local).Hour() == 3
	})
	_ = s.Stop(context.Background())
}

func TestApplyTimezoneDoesNotWaitForScheduledRun(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s, err := New("poll", Config{Schedule: "1s", InitialDelay: time.Millisecond}, func(context.Context) error {
		if calls.Add(1) == 1 {
			return nil
		}
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Start(context.Background(), nil)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run never started")
	}

	applied := make(chan error, 1)
	go func() { applied <- s.Apply(Config{Schedule: "1s", Timezone: "UTC"}) }()
	select {
	case err := <-applied:
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		close(release)
		t.Fatal("Apply blocked behind the running job")
	}

	if snap := s.Snapshot(); !snap.Running {
		t.Fatalf("snapshot = %+v, want running", snap)
	}
	if s.TriggerNow("manual") {
		t.Fatal("overlapping manual trigger started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not drain the scheduled run")
	}
}
