package pipeline

import (
	"context"
	"errors"
	"fmt"

	"recruit-radar/internal/model"
	"recruit-radar/internal/storage"
)

// Decision 是去重结果。
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionInsert
	DecisionUpdateAttachments
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "INSERT"
	case DecisionUpdateAttachments:
		return "UPDATE_ATTACHMENTS"
	default:
		return "SKIP"
	}
}

// FreshnessReader 对单条已存公告做附件完整性判断。
type FreshnessReader interface {
	NeedsAttachmentUpdate(ctx context.Context, idx string) (bool, error)
}

// Deduplicator 根据 idx 缓存与附件完整性决定写入方式。
type Deduplicator struct {
	reader FreshnessReader
}

// NewDeduplicator 创建去重器。
func NewDeduplicator(reader FreshnessReader) *Deduplicator {
	return &Deduplicator{reader: reader}
}

// Decide 不在缓存中的返回 INSERT；已存在时按单点读取的附件状态返回 UPDATE_ATTACHMENTS 或 SKIP。
// 缓存命中但存储中已不存在（例如刚被清理）时按新增处理。
func (d *Deduplicator) Decide(ctx context.Context, job model.Job, cache *IdentifierCache) (Decision, error) {
	if !cache.Has(job.IDX) {
		return DecisionInsert, nil
	}
	needs, err := d.reader.NeedsAttachmentUpdate(ctx, job.IDX)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return DecisionInsert, nil
		}
		return DecisionSkip, fmt.Errorf("decide idx=%s: %w", job.IDX, err)
	}
	if needs {
		return DecisionUpdateAttachments, nil
	}
	return DecisionSkip, nil
}
