package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "chapterbot/pkg/logx"
)

var ErrDrainTimeout = errors.New("scheduler: drain timed out with a run still in flight")

// Job is the work triggered by the scheduler. Its context is not canceled
// by Stop; Stop waits for it instead.
type Job func(ctx context.Context) error

type Config struct {
	// Schedule is a cron expression or interval. Default "30m".
	Schedule string
	// InitialDelay is waited after ready before the first run. Default 2s.
	InitialDelay time.Duration
	// DrainTimeout bounds how long Stop waits for an in-flight run. Default 45s.
	DrainTimeout time.Duration
	// RunTimeout bounds one run. Zero means unbounded.
	RunTimeout time.Duration
	Timezone   string
}

func (c *Config) defaults() {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = "30m"
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	} else if c.InitialDelay == 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 45 * time.Second
	}
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Schedule  string
	Running   bool
	Runs      uint64
	Skipped   uint64
	Failures  uint64
	LastStart time.Time
	LastTook  time.Duration
	LastErr   string
	Next      time.Time
}

type Service struct {
	name string
	job  Job
	log  logx.Logger

	mu      sync.Mutex
	cfg     Config
	spec    Spec
	loc     *time.Location
	c       *cron.Cron
	entry   cron.EntryID
	base    context.Context
	abort   context.CancelFunc
	started bool
	ticking bool
	closed  bool
	quit    chan struct{}

	running  atomic.Bool
	inflight sync.WaitGroup
	boot     sync.WaitGroup

	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64

	lmu       sync.Mutex
	lastStart time.Time
	lastTook  time.Duration
	lastErr   string
}

// New validates cfg and returns a stopped scheduler for job.
func New(name string, cfg Config, job Job, log logx.Logger) (*Service, error) {
	if job == nil {
		return nil, errors.New("scheduler: job is required")
	}
	cfg.defaults()
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		name: name,
		job:  job,
		log:  log.With(logx.String("comp", "scheduler"), logx.String("job", name)),
		cfg:  cfg,
		spec: spec,
		quit: make(chan struct{}),
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s, nil
}

// Start arms the scheduler. Once ready is closed and InitialDelay has passed,
// the job runs immediately and then on schedule. A nil ready channel counts
// as already ready. ctx only aborts the wait for readiness.
func (s *Service) Start(ctx context.Context, ready <-chan struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("scheduler: already stopped")
	}
	if s.started {
		return nil
	}
	s.started = true
	s.base, s.abort = context.WithCancel(context.WithoutCancel(ctx))
	s.c = cron.New(
		cron.WithParser(defaultParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	if err := s.scheduleLocked(); err != nil {
		return err
	}

	s.boot.Add(1)
	go s.boot0(ctx, ready, s.cfg.InitialDelay)
	s.log.Info("scheduler armed",
		logx.String("schedule", s.spec.String()),
		logx.Duration("initial_delay", s.cfg.InitialDelay),
		logx.String("tz", s.loc.String()),
	)
	return nil
}

func (s *Service) boot0(ctx context.Context, ready <-chan struct{}, delay time.Duration) {
	defer s.boot.Done()
	if ready != nil {
		select {
		case <-ready:
		case <-s.quit:
			return
		case <-ctx.Done():
			s.log.Warn("gave up waiting for transport readiness", logx.Err(ctx.Err()))
			return
		}
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.quit:
		return
	case <-ctx.Done():
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.c.Start()
	s.ticking = true
	s.mu.Unlock()
	s.TriggerNow("startup")
}

func (s *Service) scheduleLocked() error {
	sched, err := s.spec.schedule(defaultParser)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if s.entry != 0 {
		s.c.Remove(s.entry)
	}
	s.entry = s.c.Schedule(sched, cron.FuncJob(func() { s.trigger("schedule") }))
	return nil
}

// Apply swaps the schedule at runtime. Delay and drain settings take effect
// on the next Start or Stop.
func (s *Service) Apply(cfg Config) error {
	cfg.defaults()
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := spec != s.spec || strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg, s.spec = cfg, spec
	if !changed || s.c == nil || s.closed {
		return nil
	}
	if loc := s.loadLocation(cfg.Timezone); loc.String() != s.loc.String() {
		// The location is fixed at construction; rebuild cron around it.
		s.loc = loc
		old := s.c
		s.c = cron.New(cron.WithParser(defaultParser), cron.WithLocation(loc), cron.WithLogger(cronLogger{log: s.log}))
		s.entry = 0
		if err := s.scheduleLocked(); err != nil {
			return err
		}
		// A run fired by the old cron is still counted in inflight, so Stop
		// drains it. Waiting on it here would hold mu for the whole run.
		old.Stop()
		if s.ticking {
			s.c.Start()
		}
	} else if err := s.scheduleLocked(); err != nil {
		return err
	}
	s.log.Info("schedule updated", logx.String("schedule", spec.String()), logx.String("tz", s.loc.String()))
	return nil
}

// TriggerNow starts a run in the background unless one is already active.
// It reports whether a run was started.
func (s *Service) TriggerNow(reason string) bool {
	if !s.acquire(reason) {
		return false
	}
	go s.run(reason)
	return true
}

// Running reports whether a run is in flight.
func (s *Service) Running() bool { return s.running.Load() }

func (s *Service) trigger(reason string) {
	if s.acquire(reason) {
		s.run(reason)
	}
}

func (s *Service) acquire(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("previous run still in progress; trigger skipped", logx.String("trigger", reason))
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Service) run(reason string) {
	defer s.inflight.Done()
	defer s.running.Store(false)

	s.mu.Lock()
	ctx, timeout := s.base, s.cfg.RunTimeout
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	s.runs.Add(1)
	s.log.Debug("run started", logx.String("trigger", reason))

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return s.job(ctx)
	}()
	took := time.Since(start)

	s.lmu.Lock()
	s.lastStart, s.lastTook, s.lastErr = start, took, ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.lmu.Unlock()

	if err != nil {
		s.failures.Add(1)
		s.log.Error("run failed", logx.String("trigger", reason), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("run finished", logx.String("trigger", reason), logx.Duration("took", took))
}

// Stop prevents new runs and waits up to the drain timeout, or ctx,
// for an in-flight run to finish. A run still going after that has its
// context canceled.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.quit)
	c, abort := s.c, s.abort
	drain := s.cfg.DrainTimeout
	s.mu.Unlock()
	if abort != nil {
		defer abort()
	}

	start := time.Now()
	s.log.Info("stop requested", logx.Bool("running", s.running.Load()))
	if c != nil {
		c.Stop()
	}
	s.boot.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	t := time.NewTimer(drain)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.log.Warn("drain timed out", logx.Duration("timeout", drain))
		return ErrDrainTimeout
	case <-ctx.Done():
		s.log.Warn("drain aborted", logx.Err(ctx.Err()))
		return ErrDrainTimeout
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Schedule: s.spec.String()}
	if s.c != nil && s.entry != 0 {
		snap.Next = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()

	snap.Running = s.running.Load()
	snap.Runs = s.runs.Load()
	snap.Skipped = s.skipped.Load()
	snap.Failures = s.failures.Load()
	s.lmu.Lock()
	snap.LastStart, snap.LastTook, snap.LastErr = s.lastStart, s.lastTook, s.lastErr
	s.lmu.Unlock()
	return snap
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's own logging into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
