package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"recruit-radar/internal/model"
	"recruit-radar/internal/storage"
)

var kst = time.FixedZone("KST", 9*60*60)

func newFixtureService(t *testing.T, jobs ...model.Job) *Service {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	writes := make([]storage.Write, 0, len(jobs))
	for _, job := range jobs {
		writes = append(writes, storage.Write{Op: storage.OpUpsert, Job: job})
	}
	if err := store.ApplyBatch(context.Background(), writes); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	svc := NewService(store, kst)
	svc.now = func() time.Time { return time.Date(2025, 9, 20, 10, 0, 0, 0, kst) }
	return svc
}

func fixtureJob(idx, dept, reg, end string) model.Job {
	return model.Job{IDX: idx, Title: "공고 " + idx, DeptName: dept, RegDate: reg, EndDate: end, Status: model.StatusActive, EmploymentType: "정규직"}
}

func TestStatsMatchesHandComputedCounts(t *testing.T) {
	t.Parallel()

	svc := newFixtureService(t,
		fixtureJob("urgent", "한국도로공사", "2025-09-01", "2025-09-22"),
		fixtureJob("new", "한국전력공사", "2025-09-19", "2025-10-30"),
		fixtureJob("both", "한국도로공사", "2025-09-18", "2025-09-21"),
		fixtureJob("neither", "국민연금공단", "2025-09-05", "2025-10-15"),
		fixtureJob("closed", "국민연금공단", "2025-09-02", "2025-09-19"),
		fixtureJob("baddate", "국민연금공단", "2025-09-03", "미정"),
		fixtureJob("outside", "한국수자원공사", "2025-07-01", "2025-09-21"),
		fixtureJob("undated", "한국수자원공사", "", "2025-09-21"),
	)

	stats, err := svc.Stats(context.Background(), 30)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.TotalCount != 6 {
		t.Fatalf("expected 6 postings in window, got %d", stats.TotalCount)
	}
	if stats.UrgentCount != 2 {
		t.Fatalf("expected 2 urgent, got %d", stats.UrgentCount)
	}
	if stats.NewCount != 2 {
		t.Fatalf("expected 2 new, got %d", stats.NewCount)
	}
	if stats.OrgCount != 3 {
		t.Fatalf("expected 3 organizations, got %d", stats.OrgCount)
	}
	if stats.UpdatedAt.IsZero() {
		t.Fatalf("expected updated_at set")
	}
}

func TestListAppliesDefaultsAndFilters(t *testing.T) {
	t.Parallel()

	jobs := []model.Job{
		fixtureJob("a", "한국도로공사", "2025-09-19", "2025-09-30"),
		fixtureJob("b", "한국전력공사", "2025-09-10", "2025-09-30"),
		fixtureJob("c", "한국전력공사", "2025-08-01", "2025-08-30"),
	}
	svc := newFixtureService(t, jobs...)
	ctx := context.Background()

	got, err := svc.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 3 || got[0].IDX != "a" {
		t.Fatalf("expected all jobs newest first, got %d", len(got))
	}

	got, err = svc.List(ctx, ListOptions{Days: 14})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 jobs within 14 days, got %d", len(got))
	}

	got, err = svc.List(ctx, ListOptions{Search: "전력", Limit: 1000})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 || got[0].IDX != "b" {
		t.Fatalf("expected search over dept_name, got %+v", got)
	}

	got, err = svc.List(ctx, ListOptions{EmploymentType: "계약직"})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestGetAndDistinctValues(t *testing.T) {
	t.Parallel()

	svc := newFixtureService(t,
		fixtureJob("a", "한국도로공사", "2025-09-19", "2025-09-30"),
		fixtureJob("b", "한국전력공사", "2025-09-10", "2025-09-30"),
	)
	ctx := context.Background()

	job, err := svc.Get(ctx, "a")
	if err != nil || job.DeptName != "한국도로공사" {
		t.Fatalf("unexpected Get result %+v err=%v", job, err)
	}
	if _, err := svc.Get(ctx, "zzz"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	orgs, err := svc.Organizations(ctx)
	if err != nil || len(orgs) != 2 {
		t.Fatalf("expected 2 organizations, got %v err=%v", orgs, err)
	}
	types, err := svc.EmploymentTypes(ctx)
	if err != nil || len(types) != 1 || types[0] != "정규직" {
		t.Fatalf("unexpected employment types %v err=%v", types, err)
	}
}
