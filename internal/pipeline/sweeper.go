package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"recruit-radar/internal/model"
	"recruit-radar/internal/storage"
)

// RetentionConfig 定义过期清理配置。
type RetentionConfig struct {
	Days     int    `yaml:"days" json:"days"`
	Hour     *int   `yaml:"hour" json:"hour"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

// SweepStore 查询过期公告。
type SweepStore interface {
	ListIdentifiersBefore(ctx context.Context, cutoff string) ([]string, error)
}

// SweepReport 汇总一次清理。
type SweepReport struct {
	Cutoff     string
	Candidates int
	Deleted    int
	Failed     int
}

// RetentionSweeper 按注册日期删除超出保留期的公告，不看截止日期。
// reg_date 为空的公告不会被删除。
type RetentionSweeper struct {
	store  SweepStore
	writer *BatchWriter
	days   int
	hour   int
	loc    *time.Location

	mu        sync.Mutex
	lastSweep string
	metrics   *Metrics
	logger    *log.Logger
}

// NewRetentionSweeper 创建清理器，默认保留 30 天，在首尔时间 03 点执行。
func NewRetentionSweeper(cfg RetentionConfig, store SweepStore, writer *BatchWriter, metrics *Metrics) *RetentionSweeper {
	days := cfg.Days
	if days <= 0 {
		days = 30
	}
	hour := 3
	if cfg.Hour != nil && *cfg.Hour >= 0 && *cfg.Hour <= 23 {
		hour = *cfg.Hour
	}
	return &RetentionSweeper{
		store:   store,
		writer:  writer,
		days:    days,
		hour:    hour,
		loc:     LoadLocation(cfg.Timezone),
		metrics: metrics,
		logger:  log.New(os.Stdout, "[sweeper] ", log.LstdFlags),
	}
}

// LoadLocation 加载时区，缺省或加载失败时回退到固定的 KST(+09:00)。
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = "Asia/Seoul"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// SetLogger 替换默认日志输出。
func (s *RetentionSweeper) SetLogger(l *log.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Location 返回清理使用的时区。
func (s *RetentionSweeper) Location() *time.Location { return s.loc }

// Cutoff 返回 now 对应的截止日期（YYYY-MM-DD），早于它的公告会被删除。
func (s *RetentionSweeper) Cutoff(now time.Time) string {
	return now.In(s.loc).AddDate(0, 0, -s.days).Format("2006-01-02")
}

// Sweep 删除 reg_date 早于 cutoff 的全部公告。
func (s *RetentionSweeper) Sweep(ctx context.Context, cutoff string) (SweepReport, error) {
	report := SweepReport{Cutoff: cutoff}
	ids, err := s.store.ListIdentifiersBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}
	report.Candidates = len(ids)
	if len(ids) == 0 {
		s.logger.Printf("sweep cutoff=%s nothing to delete", cutoff)
		return report, nil
	}

	writes := make([]storage.Write, 0, len(ids))
	for _, idx := range ids {
		writes = append(writes, storage.Write{Op: storage.OpDelete, Job: model.Job{IDX: idx}})
	}
	commit := s.writer.Commit(ctx, writes)
	report.Deleted = commit.Written
	report.Failed = commit.Failed
	s.metrics.addSwept(report.Deleted)
	s.logger.Printf("sweep cutoff=%s candidates=%d deleted=%d failed=%d", cutoff, report.Candidates, report.Deleted, report.Failed)
	return report, nil
}

// MaybeSweep 只在配置的小时内、且当天尚未清理过时执行。窗口外的调用会记录日志后返回 false。
func (s *RetentionSweeper) MaybeSweep(ctx context.Context, now time.Time) (SweepReport, bool, error) {
	local := now.In(s.loc)
	if local.Hour() != s.hour {
		s.logger.Printf("sweep skipped: outside window hour=%02d window=%02d tz=%s", local.Hour(), s.hour, s.loc)
		return SweepReport{}, false, nil
	}
	today := local.Format("2006-01-02")

	s.mu.Lock()
	if s.lastSweep == today {
		s.mu.Unlock()
		s.logger.Printf("sweep skipped: already ran on %s", today)
		return SweepReport{}, false, nil
	}
	s.mu.Unlock()

	report, err := s.Sweep(ctx, s.Cutoff(now))
	if err != nil {
		return report, true, err
	}
	s.mu.Lock()
	s.lastSweep = today
	s.mu.Unlock()
	return report, true, nil
}
