package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"recruit-radar/internal/fetcher"
	"recruit-radar/internal/model"
	"recruit-radar/internal/storage"
)

var quiet = log.New(io.Discard, "", 0)

// stubStore 是内存版存储，记录每次批量提交的大小。
type stubStore struct {
	mu         sync.Mutex
	jobs       map[string]model.Job
	batchSizes []int
	failBatch  bool
	failIDs    map[string]bool
	leaseOwner string
	pointReads int
}

func newStubStore(jobs ...model.Job) *stubStore {
	s := &stubStore{jobs: make(map[string]model.Job), failIDs: make(map[string]bool)}
	for _, j := range jobs {
		s.jobs[j.IDX] = j
	}
	return s
}

func (s *stubStore) ListIdentifiers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *stubStore) NeedsAttachmentUpdate(ctx context.Context, idx string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointReads++
	job, ok := s.jobs[idx]
	if !ok {
		return false, storage.ErrNotFound
	}
	return job.NeedsAttachmentUpdate(), nil
}

func (s *stubStore) ApplyBatch(ctx context.Context, writes []storage.Write) error {
	s.mu.Lock()
	s.batchSizes = append(s.batchSizes, len(writes))
	fail := s.failBatch
	s.mu.Unlock()
	if fail {
		return errors.New("batch rejected")
	}
	for _, w := range writes {
		if err := s.Apply(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubStore) Apply(ctx context.Context, w storage.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[w.Job.IDX] {
		return fmt.Errorf("write %s rejected", w.Job.IDX)
	}
	switch w.Op {
	case storage.OpUpsert:
		s.jobs[w.Job.IDX] = w.Job
	case storage.OpUpdateAttachments:
		job, ok := s.jobs[w.Job.IDX]
		if !ok {
			return storage.ErrNotFound
		}
		job.Attachments = w.Job.Attachments
		s.jobs[w.Job.IDX] = job
	case storage.OpDelete:
		delete(s.jobs, w.Job.IDX)
	}
	return nil
}

func (s *stubStore) ListIdentifiersBefore(ctx context.Context, cutoff string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, j := range s.jobs {
		if j.RegDate != "" && j.RegDate < cutoff {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *stubStore) GetJob(ctx context.Context, idx string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[idx]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &job, nil
}

func (s *stubStore) ListNeedingAttachments(ctx context.Context, limit int) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for _, j := range s.jobs {
		if j.NeedsAttachmentUpdate() {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].IDX < out[b].IDX })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubStore) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaseOwner != "" && s.leaseOwner != owner {
		return false, nil
	}
	s.leaseOwner = owner
	return true, nil
}

func (s *stubStore) ReleaseLease(ctx context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaseOwner == owner {
		s.leaseOwner = ""
	}
	return nil
}

func (s *stubStore) get(idx string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[idx]
	return j, ok
}

// stubFetcher 依次交出预置页面。
type stubFetcher struct {
	pages   []fetcher.Page
	visited int
}

func (f *stubFetcher) FetchPages(ctx context.Context, maxPages int, visit fetcher.PageVisitor) fetcher.Summary {
	sum := fetcher.Summary{Stop: fetcher.StopMaxPages}
	for _, page := range f.pages {
		f.visited++
		sum.Pages++
		sum.Records += len(page.Records)
		if !visit(ctx, page) {
			sum.Stop = fetcher.StopVisitor
			return sum
		}
	}
	return sum
}

// stubExtractor 按 idx 返回固定附件或错误，content 非空时作为正文返回。
type stubExtractor struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	found   bool
	content string
}

func (e *stubExtractor) Extract(ctx context.Context, idx string) (fetcher.DetailPage, error) {
	e.mu.Lock()
	e.calls = append(e.calls, idx)
	fail := e.fail[idx]
	e.mu.Unlock()
	if fail {
		return fetcher.DetailPage{}, fmt.Errorf("%w: stub", fetcher.ErrSourceUnavailable)
	}
	if e.found {
		return fetcher.DetailPage{
			Attachments: model.Attachments{
				Announcement: &model.FileRef{FileID: "f-" + idx, Name: "공고문.hwp", Type: model.FileTypeAnnouncement},
				Others:       []model.FileRef{},
				State:        model.AttachmentsFound,
			},
			Content: e.content,
		}, nil
	}
	return fetcher.DetailPage{
		Attachments: model.Attachments{Others: []model.FileRef{}, State: model.AttachmentsEmpty},
		Content:     e.content,
	}, nil
}

func rawPage(number int, ids ...string) fetcher.Page {
	page := fetcher.Page{Number: number}
	for _, id := range ids {
		page.Records = append(page.Records, model.RawPosting{
			RecrutPblntSn:  id,
			RecrutPbancTtl: "공고 " + id,
			InstNm:         "한국가스공사",
			HireTypeNmLst:  "R1010",
			PbancBgngYmd:   "20250901",
			PbancEndYmd:    "20250930",
			OngoingYn:      "Y",
		})
	}
	return page
}

func seqIDs(prefix string, from, n int) []string {
	ids := make([]string, 0, n)
	for i := from; i < from+n; i++ {
		ids = append(ids, fmt.Sprintf("%s%d", prefix, i))
	}
	return ids
}

func noSleep(context.Context, time.Duration) error { return nil }
