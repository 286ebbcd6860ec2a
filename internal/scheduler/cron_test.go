package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"recruit-radar/internal/model"
	"recruit-radar/internal/pipeline"
)

func newQuietScheduler(r Runner, n Notifier, cfg Config) *Scheduler {
	s := NewScheduler(r, n, cfg)
	s.SetLogger(log.New(io.Discard, "", 0))
	return s
}

func TestSchedulerRunOnce(t *testing.T) {
	t.Parallel()

	r := &stubRunner{report: pipeline.Report{Inserted: 2}}
	sched := newQuietScheduler(r, nil, Config{Interval: "1h", Timeout: "5s"})

	report, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if report.Inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", report.Inserted)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("expected runner called once, got %d", r.calls.Load())
	}
	if !r.hadDeadline.Load() {
		t.Fatalf("expected run to carry a timeout")
	}
}

func TestSchedulerNoOverlap(t *testing.T) {
	t.Parallel()

	tickCh := make(chan time.Time, 4)
	st := &stubTicker{ch: tickCh}

	r := &stubRunner{block: make(chan struct{})}
	sched := newQuietScheduler(r, nil, Config{Interval: "100ms", Timeout: "5s"})
	sched.newTicker = func(d time.Duration) ticker { return st }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Start(ctx)
	}()

	// First tick starts a run that blocks until released.
	tickCh <- time.Now()
	time.Sleep(20 * time.Millisecond)

	// A manual refresh during the run is refused.
	if _, err := sched.RunOnce(context.Background()); !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress during run, got %v", err)
	}

	// Second tick while the first run is in progress gets drained.
	tickCh <- time.Now()
	close(r.block)

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if r.calls.Load() != 1 {
		t.Fatalf("expected runner called once due to overlap prevention, got %d", r.calls.Load())
	}
}

func TestSchedulerKeepsRunningAfterFailure(t *testing.T) {
	t.Parallel()

	tickCh := make(chan time.Time, 4)
	r := &stubRunner{err: errors.New("identifier load failed")}
	sched := newQuietScheduler(r, nil, Config{Interval: "100ms", Timeout: "5s"})
	sched.newTicker = func(d time.Duration) ticker { return &stubTicker{ch: tickCh} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	tickCh <- time.Now()
	time.Sleep(20 * time.Millisecond)
	tickCh <- time.Now()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected loop to stop only on cancel, got %v", err)
	}
	if r.calls.Load() != 2 {
		t.Fatalf("expected 2 runs despite failures, got %d", r.calls.Load())
	}
}

func TestSchedulerNotifiesNewJobs(t *testing.T) {
	t.Parallel()

	r := &stubRunner{report: pipeline.Report{Inserted: 1, NewJobs: []model.Job{{IDX: "n1"}}}}
	n := &stubNotifier{}
	sched := newQuietScheduler(r, n, Config{Interval: "1h", Timeout: "5s"})

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if n.calls.Load() != 1 {
		t.Fatalf("expected notifier called once, got %d", n.calls.Load())
	}

	r.report = pipeline.Report{}
	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if n.calls.Load() != 1 {
		t.Fatalf("expected no notification without new jobs, got %d", n.calls.Load())
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	if d, cfg := parseSchedule("90s"); d != 90*time.Second || cfg.schedule != nil {
		t.Fatalf("expected duration schedule, got %v %+v", d, cfg)
	}
	if _, cfg := parseSchedule(""); cfg.spec != defaultSpec || cfg.schedule == nil {
		t.Fatalf("expected default cron spec, got %+v", cfg)
	}
	if _, cfg := parseSchedule("not a schedule"); cfg.spec != defaultSpec {
		t.Fatalf("expected fallback to default spec, got %q", cfg.spec)
	}
}

func TestCronNext(t *testing.T) {
	t.Parallel()

	cases := []struct {
		spec  string
		after time.Time
		want  time.Time
	}{
		{"*/5 * * * *", time.Date(2025, 9, 1, 10, 2, 30, 0, time.UTC), time.Date(2025, 9, 1, 10, 5, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 9, 1, 3, 0, 0, 0, time.UTC), time.Date(2025, 9, 2, 3, 0, 0, 0, time.UTC)},
		{"30 9-18/3 * * 1-5", time.Date(2025, 9, 5, 19, 0, 0, 0, time.UTC), time.Date(2025, 9, 8, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 1,7 *", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		sched, err := parseCronSpec(tc.spec)
		if err != nil {
			t.Fatalf("%s: parse error: %v", tc.spec, err)
		}
		got, err := sched.next(tc.after)
		if err != nil {
			t.Fatalf("%s: next error: %v", tc.spec, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.spec, got, tc.want)
		}
	}

	for _, bad := range []string{"* * * *", "61 * * * *", "*/0 * * * *", "5-1 * * * *"} {
		if _, err := parseCronSpec(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

// --- stubs ---

type stubRunner struct {
	report      pipeline.Report
	err         error
	calls       atomic.Int32
	hadDeadline atomic.Bool
	block       chan struct{}
}

func (s *stubRunner) Run(ctx context.Context) (pipeline.Report, error) {
	s.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		s.hadDeadline.Store(true)
	}
	if s.block != nil {
		<-s.block
	}
	return s.report, s.err
}

type stubTicker struct {
	ch chan time.Time
}

func (s *stubTicker) C() <-chan time.Time { return s.ch }
func (s *stubTicker) Stop()               {}

type stubNotifier struct {
	calls atomic.Int32
}

func (n *stubNotifier) Notify(ctx context.Context, jobs []model.Job) error {
	n.calls.Add(1)
	return ctx.Err()
}
