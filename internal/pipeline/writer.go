package pipeline

import (
	"context"
	"log"
	"os"
	"time"

	"recruit-radar/internal/storage"
	"recruit-radar/internal/timeutil"
)

const (
	// DefaultBatchSize 为单个批次的默认写入条数。
	DefaultBatchSize = 400
	// MaxBatchSize 是存储单批次允许的最大写入条数。
	MaxBatchSize = 500
)

// WriterConfig 定义批量写入配置。
type WriterConfig struct {
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	Pause     string `yaml:"batch_pause" json:"batch_pause"`
}

// BatchStore 是 BatchWriter 依赖的存储接口。
type BatchStore interface {
	ApplyBatch(ctx context.Context, writes []storage.Write) error
	Apply(ctx context.Context, w storage.Write) error
}

// CommitReport 汇总一次提交。
type CommitReport struct {
	Chunks    int
	Written   int
	Fallbacks int
	Failed    int
	FailedIDs []string
}

func (r *CommitReport) merge(o CommitReport) {
	r.Chunks += o.Chunks
	r.Written += o.Written
	r.Fallbacks += o.Fallbacks
	r.Failed += o.Failed
	r.FailedIDs = append(r.FailedIDs, o.FailedIDs...)
}

// BatchWriter 把写入拆分成不超过 batchSize 的批次依次提交，批次之间短暂停顿。
// 某个批次失败时只对该批次逐条重试。
type BatchWriter struct {
	store     BatchStore
	batchSize int
	pause     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	metrics   *Metrics
	logger    *log.Logger
}

// NewBatchWriter 创建批量写入器，batchSize 超过 MaxBatchSize 时截断。
func NewBatchWriter(store BatchStore, cfg WriterConfig, metrics *Metrics) *BatchWriter {
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	return &BatchWriter{
		store:     store,
		batchSize: size,
		pause:     timeutil.ParseDuration(cfg.Pause, 100*time.Millisecond),
		sleep:     timeutil.Sleep,
		metrics:   metrics,
		logger:    log.New(os.Stdout, "[writer] ", log.LstdFlags),
	}
}

// SetLogger 替换默认日志输出。
func (w *BatchWriter) SetLogger(l *log.Logger) {
	if l != nil {
		w.logger = l
	}
}

// BatchSize 返回生效的批次大小。
func (w *BatchWriter) BatchSize() int { return w.batchSize }

// Commit 提交全部写入。单条失败只记录在报告中，不会中断其余写入。
func (w *BatchWriter) Commit(ctx context.Context, writes []storage.Write) CommitReport {
	var report CommitReport
	for start := 0; start < len(writes); start += w.batchSize {
		if start > 0 {
			if err := w.sleep(ctx, w.pause); err != nil {
				w.logger.Printf("commit interrupted before chunk at %d: %v", start, err)
				for _, rest := range writes[start:] {
					report.Failed++
					report.FailedIDs = append(report.FailedIDs, rest.Job.IDX)
				}
				return report
			}
		}
		end := start + w.batchSize
		if end > len(writes) {
			end = len(writes)
		}
		report.merge(w.commitChunk(ctx, writes[start:end]))
	}
	return report
}

func (w *BatchWriter) commitChunk(ctx context.Context, chunk []storage.Write) CommitReport {
	report := CommitReport{Chunks: 1}
	err := w.store.ApplyBatch(ctx, chunk)
	if err == nil {
		report.Written = len(chunk)
		w.metrics.observeChunk(len(chunk), report.Written, 0)
		return report
	}

	w.logger.Printf("batch of %d failed, falling back to single writes: %v", len(chunk), err)
	for _, item := range chunk {
		report.Fallbacks++
		if err := w.store.Apply(ctx, item); err != nil {
			w.logger.Printf("write dropped idx=%s op=%s: %v", item.Job.IDX, item.Op, err)
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, item.Job.IDX)
			continue
		}
		report.Written++
	}
	w.metrics.observeChunk(len(chunk), report.Written, report.Failed)
	return report
}
