package main

import (
	"context"
	"errors"
	"testing"

	"recruit-radar/internal/pipeline"
)

func TestRunOnceManual(t *testing.T) {
	t.Parallel()

	stub := &stubScheduler{report: pipeline.Report{Inserted: 3}}
	builds, cleanups := 0, 0

	report, err := runOnceManual(context.Background(), AppConfig{}, func(AppConfig) (appDeps, func(), error) {
		builds++
		return appDeps{sched: stub}, func() { cleanups++ }, nil
	})
	if err != nil {
		t.Fatalf("runOnceManual error: %v", err)
	}
	if report.Inserted != 3 {
		t.Fatalf("expected inserted=3, got %d", report.Inserted)
	}
	if builds != 1 || cleanups != 1 {
		t.Fatalf("expected builder and cleanup called once, got %d/%d", builds, cleanups)
	}
	if stub.runOnceCalls != 1 {
		t.Fatalf("expected RunOnce called once, got %d", stub.runOnceCalls)
	}
}

func TestRunOnceManualBuilderError(t *testing.T) {
	t.Parallel()

	_, err := runOnceManual(context.Background(), AppConfig{}, func(AppConfig) (appDeps, func(), error) {
		return appDeps{}, func() {}, errors.New("build fail")
	})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestRunOnceManualRunInProgress(t *testing.T) {
	t.Parallel()

	stub := &stubScheduler{err: pipeline.ErrRunInProgress}
	_, err := runOnceManual(context.Background(), AppConfig{}, func(AppConfig) (appDeps, func(), error) {
		return appDeps{sched: stub}, func() {}, nil
	})
	if !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestMaintenanceCommands(t *testing.T) {
	t.Parallel()

	m := &stubMaintenance{}
	build := func(AppConfig) (appDeps, func(), error) {
		return appDeps{pipeline: m}, func() {}, nil
	}

	sweep, err := runSweepManual(context.Background(), AppConfig{}, build)
	if err != nil {
		t.Fatalf("runSweepManual error: %v", err)
	}
	if sweep.Deleted != 4 || m.sweeps != 1 {
		t.Fatalf("unexpected sweep result %+v calls=%d", sweep, m.sweeps)
	}

	backfill, err := runBackfillManual(context.Background(), AppConfig{}, 25, build)
	if err != nil {
		t.Fatalf("runBackfillManual error: %v", err)
	}
	if m.lastLimit != 25 || backfill.Written != 2 {
		t.Fatalf("unexpected backfill result %+v limit=%d", backfill, m.lastLimit)
	}

	if _, err := runSweepManual(context.Background(), AppConfig{}, func(AppConfig) (appDeps, func(), error) {
		return appDeps{}, func() {}, nil
	}); err == nil {
		t.Fatalf("expected error without pipeline")
	}
}

// --- stubs ---

type stubScheduler struct {
	report       pipeline.Report
	err          error
	runOnceCalls int
}

func (s *stubScheduler) RunOnce(context.Context) (pipeline.Report, error) {
	s.runOnceCalls++
	return s.report, s.err
}

func (s *stubScheduler) Start(context.Context) error {
	return nil
}

type stubMaintenance struct {
	sweeps    int
	lastLimit int
}

func (m *stubMaintenance) Sweep(context.Context) (pipeline.SweepReport, error) {
	m.sweeps++
	return pipeline.SweepReport{Cutoff: "2025-08-21", Candidates: 4, Deleted: 4}, nil
}

func (m *stubMaintenance) BackfillAttachments(_ context.Context, limit int) (pipeline.BackfillReport, error) {
	m.lastLimit = limit
	return pipeline.BackfillReport{Candidates: 2, Extracted: 2, Written: 2}, nil
}
