package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
	"unicode/utf8"

	"recruit-radar/internal/fetcher"
	"recruit-radar/internal/model"
	"recruit-radar/internal/processor"
	"recruit-radar/internal/storage"
	"recruit-radar/internal/timeutil"

	"github.com/google/uuid"
)

// ErrRunInProgress 表示另一个进程正持有采集租约。
var ErrRunInProgress = errors.New("collection run in progress")

const leaseName = "collector"

// minDetailContent 是采用详情页正文的最短字符数，更短时保留接口提供的资格要求文本。
const minDetailContent = 10

// Config 定义采集流水线配置。
type Config struct {
	MaxPages           int             `yaml:"max_pages" json:"max_pages"`
	DuplicatePageLimit int             `yaml:"duplicate_page_limit" json:"duplicate_page_limit"`
	DetailDelay        string          `yaml:"detail_delay" json:"detail_delay"`
	LeaseTTL           string          `yaml:"lease_ttl" json:"lease_ttl"`
	OngoingOnly        *bool           `yaml:"ongoing_only" json:"ongoing_only"`
	Writer             WriterConfig    `yaml:",inline" json:"writer"`
	Retention          RetentionConfig `yaml:"-" json:"retention"`
}

// Mapper 把上游原始记录映射为 Job。
type Mapper interface {
	Map(raw model.RawPosting) processor.Result
}

// Store 是流水线依赖的全部存储能力。
type Store interface {
	IdentifierSource
	FreshnessReader
	BatchStore
	SweepStore
	GetJob(ctx context.Context, idx string) (*model.Job, error)
	ListNeedingAttachments(ctx context.Context, limit int) ([]model.Job, error)
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
}

// Report 汇总一次采集。
type Report struct {
	RunID              string             `json:"run_id"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at"`
	Pages              int                `json:"pages"`
	Fetched            int                `json:"fetched"`
	Accepted           int                `json:"accepted"`
	Rejected           int                `json:"rejected"`
	Inserted           int                `json:"inserted"`
	Updated            int                `json:"updated"`
	Skipped            int                `json:"skipped"`
	DecideErrors       int                `json:"decide_errors"`
	AttachmentFailures int                `json:"attachment_failures"`
	Written            int                `json:"written"`
	WriteFailures      int                `json:"write_failures"`
	FetchStop          fetcher.StopReason `json:"fetch_stop"`
	FetchError         string             `json:"fetch_error,omitempty"`
	DuplicateStop      bool               `json:"duplicate_stop"`
	Sweep              *SweepReport       `json:"sweep,omitempty"`
	NewJobs            []model.Job        `json:"-"`
}

// BackfillReport 汇总一次附件补采。
type BackfillReport struct {
	Candidates    int `json:"candidates"`
	Extracted     int `json:"extracted"`
	Failed        int `json:"failed"`
	Written       int `json:"written"`
	WriteFailures int `json:"write_failures"`
}

// Pipeline 串联 抓取 -> 映射 -> 去重 -> 附件补全 -> 批量写入，并在窗口内触发过期清理。
// 每次 Run 都会重新加载 idx 缓存，不保留跨次运行的状态。
type Pipeline struct {
	fetcher   fetcher.PageFetcher
	mapper    Mapper
	extractor fetcher.AttachmentExtractor
	store     Store
	dedupe    *Deduplicator
	writer    *BatchWriter
	sweeper   *RetentionSweeper

	maxPages    int
	dupLimit    int
	detailDelay time.Duration
	leaseTTL    time.Duration

	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	metrics *Metrics
	logger  *log.Logger
}

// New 创建流水线，extractor 为 nil 时跳过附件采集，metrics 可为 nil。
func New(f fetcher.PageFetcher, m Mapper, ex fetcher.AttachmentExtractor, store Store, cfg Config, metrics *Metrics) *Pipeline {
	dupLimit := cfg.DuplicatePageLimit
	if dupLimit <= 0 {
		dupLimit = 3
	}
	writer := NewBatchWriter(store, cfg.Writer, metrics)
	return &Pipeline{
		fetcher:     f,
		mapper:      m,
		extractor:   ex,
		store:       store,
		dedupe:      NewDeduplicator(store),
		writer:      writer,
		sweeper:     NewRetentionSweeper(cfg.Retention, store, writer, metrics),
		maxPages:    cfg.MaxPages,
		dupLimit:    dupLimit,
		detailDelay: timeutil.ParseDuration(cfg.DetailDelay, time.Second),
		leaseTTL:    timeutil.ParseDuration(cfg.LeaseTTL, 30*time.Minute),
		sleep:       timeutil.Sleep,
		now:         time.Now,
		metrics:     metrics,
		logger:      log.New(os.Stdout, "[pipeline] ", log.LstdFlags),
	}
}

// SetLogger 替换流水线及其写入器、清理器的日志输出。
func (p *Pipeline) SetLogger(l *log.Logger) {
	if l == nil {
		return
	}
	p.logger = l
	p.writer.SetLogger(l)
	p.sweeper.SetLogger(l)
}

// Sweeper 返回流水线使用的清理器。
func (p *Pipeline) Sweeper() *RetentionSweeper { return p.sweeper }

type runState struct {
	cache       *IdentifierCache
	seen        map[string]struct{}
	report      *Report
	extractions int
	dupPages    int
}

// Run 执行一次完整采集。抓取中途失败时保留已处理的页面，不视为错误。
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), StartedAt: p.now()}

	release, err := p.acquire(ctx, report.RunID)
	if err != nil {
		p.metrics.observeRun("skipped", 0)
		return report, err
	}
	defer release()

	cache, err := LoadIdentifierCache(ctx, p.store)
	if err != nil {
		p.metrics.observeRun("failed", p.now().Sub(report.StartedAt).Seconds())
		return report, err
	}
	p.logger.Printf("run=%s start known=%d", report.RunID, cache.Len())

	rs := &runState{cache: cache, seen: make(map[string]struct{}), report: &report}
	sum := p.fetcher.FetchPages(ctx, p.maxPages, func(ctx context.Context, page fetcher.Page) bool {
		if p.processPage(ctx, rs, page) {
			rs.dupPages++
		} else {
			rs.dupPages = 0
		}
		if rs.dupPages >= p.dupLimit {
			p.logger.Printf("run=%s stop after %d consecutive duplicate pages", report.RunID, rs.dupPages)
			report.DuplicateStop = true
			return false
		}
		return true
	})
	report.Pages = sum.Pages
	report.FetchStop = sum.Stop
	if sum.Err != nil {
		report.FetchError = sum.Err.Error()
	}

	sweep, ran, err := p.sweeper.MaybeSweep(ctx, p.now())
	if err != nil {
		p.logger.Printf("run=%s sweep failed: %v", report.RunID, err)
	}
	if ran {
		report.Sweep = &sweep
	}

	report.FinishedAt = p.now()
	p.metrics.observeRun("ok", report.FinishedAt.Sub(report.StartedAt).Seconds())
	p.logger.Printf("run=%s done pages=%d fetched=%d rejected=%d inserted=%d updated=%d skipped=%d written=%d write_failures=%d stop=%s",
		report.RunID, report.Pages, report.Fetched, report.Rejected, report.Inserted, report.Updated,
		report.Skipped, report.Written, report.WriteFailures, report.FetchStop)
	return report, nil
}

// processPage 处理一页并提交写入，返回该页是否全部为重复。
func (p *Pipeline) processPage(ctx context.Context, rs *runState, page fetcher.Page) bool {
	report := rs.report
	writes := make([]storage.Write, 0, len(page.Records))
	var inserted []model.Job
	changes := 0

	for _, raw := range page.Records {
		report.Fetched++
		res := p.mapper.Map(raw)
		p.metrics.incRecord(string(res.Outcome))
		if !res.Accepted() {
			report.Rejected++
			continue
		}
		report.Accepted++
		job := *res.Job

		// 同一次运行中重复出现的 idx 只处理一次。
		if _, dup := rs.seen[job.IDX]; dup {
			report.Skipped++
			continue
		}
		rs.seen[job.IDX] = struct{}{}

		decision, err := p.dedupe.Decide(ctx, job, rs.cache)
		if err != nil {
			p.logger.Printf("page=%d %v", page.Number, err)
			report.DecideErrors++
			continue
		}
		p.metrics.incDecision(decision)

		switch decision {
		case DecisionInsert:
			changes++
			report.Inserted++
			if detail, ok := p.extract(ctx, rs, job.IDX); ok {
				job.Attachments = &detail.Attachments
				if content := processor.CleanText(detail.Content); utf8.RuneCountInString(content) >= minDetailContent {
					job.DetailContent = content
				}
			}
			writes = append(writes, storage.Write{Op: storage.OpUpsert, Job: job})
			rs.cache.Add(job.IDX)
			inserted = append(inserted, job)
		case DecisionUpdateAttachments:
			changes++
			detail, ok := p.extract(ctx, rs, job.IDX)
			if !ok {
				continue
			}
			report.Updated++
			job.Attachments = &detail.Attachments
			writes = append(writes, storage.Write{Op: storage.OpUpdateAttachments, Job: job})
		default:
			report.Skipped++
		}
	}

	commit := p.writer.Commit(ctx, writes)
	report.Written += commit.Written
	report.WriteFailures += commit.Failed

	failed := make(map[string]struct{}, len(commit.FailedIDs))
	for _, id := range commit.FailedIDs {
		failed[id] = struct{}{}
	}
	for _, job := range inserted {
		if _, ok := failed[job.IDX]; ok {
			rs.cache.Remove(job.IDX)
			continue
		}
		report.NewJobs = append(report.NewJobs, job)
	}

	p.logger.Printf("page=%d records=%d changes=%d written=%d failed=%d", page.Number, len(page.Records), changes, commit.Written, commit.Failed)
	return len(page.Records) > 0 && changes == 0
}

// extract 抓取详情页。失败返回 false，调用方据此区分“稍后重试”和“确实没有附件”。
func (p *Pipeline) extract(ctx context.Context, rs *runState, idx string) (fetcher.DetailPage, bool) {
	if p.extractor == nil {
		return fetcher.DetailPage{}, false
	}
	if rs.extractions > 0 {
		if err := p.sleep(ctx, p.detailDelay); err != nil {
			return fetcher.DetailPage{}, false
		}
	}
	rs.extractions++

	detail, err := p.extractor.Extract(ctx, idx)
	if err != nil {
		p.logger.Printf("idx=%s attachment extraction failed, retry next run: %v", idx, err)
		p.metrics.incAttachment("failed")
		rs.report.AttachmentFailures++
		return fetcher.DetailPage{}, false
	}
	p.metrics.incAttachment(string(detail.Attachments.State))
	return detail, true
}

// RefreshAttachments 立即为单条公告重新采集附件并写回。
func (p *Pipeline) RefreshAttachments(ctx context.Context, idx string) (*model.Attachments, error) {
	if _, err := p.store.GetJob(ctx, idx); err != nil {
		return nil, err
	}
	if p.extractor == nil {
		return nil, fmt.Errorf("refresh attachments: extractor not configured")
	}
	detail, err := p.extractor.Extract(ctx, idx)
	if err != nil {
		p.metrics.incAttachment("failed")
		return nil, fmt.Errorf("refresh attachments idx=%s: %w", idx, err)
	}
	att := detail.Attachments
	p.metrics.incAttachment(string(att.State))

	commit := p.writer.Commit(ctx, []storage.Write{{Op: storage.OpUpdateAttachments, Job: model.Job{IDX: idx, Attachments: &att}}})
	if commit.Failed > 0 {
		return nil, fmt.Errorf("refresh attachments idx=%s: write failed", idx)
	}
	return &att, nil
}

// BackfillAttachments 为附件不完整的已存公告补采附件，最多处理 limit 条。
func (p *Pipeline) BackfillAttachments(ctx context.Context, limit int) (BackfillReport, error) {
	var report BackfillReport
	if p.extractor == nil {
		return report, fmt.Errorf("backfill: extractor not configured")
	}
	release, err := p.acquire(ctx, uuid.NewString())
	if err != nil {
		return report, err
	}
	defer release()

	jobs, err := p.store.ListNeedingAttachments(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("backfill: %w", err)
	}
	report.Candidates = len(jobs)

	rs := &runState{report: &Report{}}
	writes := make([]storage.Write, 0, len(jobs))
	for _, job := range jobs {
		detail, ok := p.extract(ctx, rs, job.IDX)
		if !ok {
			report.Failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		report.Extracted++
		writes = append(writes, storage.Write{Op: storage.OpUpdateAttachments, Job: model.Job{IDX: job.IDX, Attachments: &detail.Attachments}})
	}

	commit := p.writer.Commit(ctx, writes)
	report.Written = commit.Written
	report.WriteFailures = commit.Failed
	p.logger.Printf("backfill candidates=%d extracted=%d failed=%d written=%d", report.Candidates, report.Extracted, report.Failed, report.Written)
	return report, nil
}

// Sweep 立即按当前时间执行一次清理，不受时间窗口限制。
func (p *Pipeline) Sweep(ctx context.Context) (SweepReport, error) {
	release, err := p.acquire(ctx, uuid.NewString())
	if err != nil {
		return SweepReport{}, err
	}
	defer release()
	return p.sweeper.Sweep(ctx, p.sweeper.Cutoff(p.now()))
}

func (p *Pipeline) acquire(ctx context.Context, owner string) (func(), error) {
	ok, err := p.store.AcquireLease(ctx, leaseName, owner, p.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.store.ReleaseLease(releaseCtx, leaseName, owner); err != nil {
			p.logger.Printf("release lease owner=%s: %v", owner, err)
		}
	}, nil
}
